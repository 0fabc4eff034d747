package repository

import (
	"fmt"
	"sync"

	"github.com/emirpasic/gods/maps/treemap"
	"go.uber.org/zap"

	"blobkeeper/internal/domain"
	"blobkeeper/internal/platform/config"
	"blobkeeper/internal/platform/utils"
)

type indexKey struct {
	id       int64
	blobType int
}

type partitionKey struct {
	disk int
	id   int
}

func compareIndexKeys(a, b interface{}) int {
	one := a.(indexKey)
	two := b.(indexKey)
	switch {
	case one.id < two.id:
		return -1
	case one.id > two.id:
		return 1
	case one.blobType < two.blobType:
		return -1
	case one.blobType > two.blobType:
		return 1
	default:
		return 0
	}
}

// WalIndexRepository keeps the full index in memory and makes every mutation
// durable through an append-only log before it becomes visible.
type WalIndexRepository struct {
	mu          sync.RWMutex
	byKey       map[indexKey]*domain.IndexElt
	byPartition map[partitionKey]*treemap.Map
	deletedSize map[partitionKey]int64
	temp        map[indexKey]*domain.TempIndexElt

	wal     *IndexWal
	tempWal *TempWal
	syncAll bool
	logger  *zap.Logger
}

func NewWalIndexRepository(cfg config.Config, logger *zap.Logger) (*WalIndexRepository, error) {
	wal, err := OpenIndexWal(cfg.MetaDirectory)
	if err != nil {
		return nil, fmt.Errorf("open index log: %w", err)
	}
	tempWal, err := OpenTempWal(cfg.MetaDirectory)
	if err != nil {
		return nil, fmt.Errorf("open temp index log: %w", err)
	}

	repo := &WalIndexRepository{
		byKey:       make(map[indexKey]*domain.IndexElt),
		byPartition: make(map[partitionKey]*treemap.Map),
		deletedSize: make(map[partitionKey]int64),
		temp:        make(map[indexKey]*domain.TempIndexElt),
		wal:         wal,
		tempWal:     tempWal,
		syncAll:     cfg.SyncOnWrite,
		logger:      logger,
	}
	if err := repo.replay(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCorruptIndex, err)
	}
	return repo, nil
}

func (r *WalIndexRepository) replay() error {
	records, err := r.wal.ReadAll()
	if err != nil {
		return err
	}
	for _, rec := range records {
		elt := rec.Elt
		switch rec.Op {
		case utils.OpPut, utils.OpRestore:
			r.apply(&elt)
		case utils.OpDelete:
			r.applyDelete(&elt)
		default:
			return fmt.Errorf("unknown index record op %d", rec.Op)
		}
	}

	tempRecords, err := r.tempWal.ReadAll()
	if err != nil {
		return err
	}
	for _, rec := range tempRecords {
		elt := rec.Elt
		key := indexKey{id: elt.Id, blobType: elt.Type}
		switch rec.Op {
		case utils.OpTempAdd:
			r.temp[key] = &elt
		case utils.OpTempDelete:
			delete(r.temp, key)
		default:
			return fmt.Errorf("unknown temp record op %d", rec.Op)
		}
	}

	r.logger.Info("index replayed",
		zap.Int("entries", len(r.byKey)),
		zap.Int("pending_temp", len(r.temp)))
	return nil
}

// apply upserts an entry, displacing a previous mapping of the same key.
func (r *WalIndexRepository) apply(elt *domain.IndexElt) {
	key := indexKey{id: elt.Id, blobType: elt.Type}

	if previous, exists := r.byKey[key]; exists {
		pk := partitionKey{disk: previous.Disk, id: previous.Partition}
		if tm, ok := r.byPartition[pk]; ok {
			tm.Remove(key)
		}
		if previous.Deleted {
			r.deletedSize[pk] -= previous.Length
		}
	}

	r.byKey[key] = elt
	pk := partitionKey{disk: elt.Disk, id: elt.Partition}
	tm, ok := r.byPartition[pk]
	if !ok {
		tm = treemap.NewWith(compareIndexKeys)
		r.byPartition[pk] = tm
	}
	tm.Put(key, elt)
	if elt.Deleted {
		r.deletedSize[pk] += elt.Length
	}
}

func (r *WalIndexRepository) applyDelete(elt *domain.IndexElt) {
	key := indexKey{id: elt.Id, blobType: elt.Type}
	current, exists := r.byKey[key]
	if !exists || current.Deleted {
		return
	}
	current.Deleted = true
	r.deletedSize[partitionKey{disk: current.Disk, id: current.Partition}] += current.Length
}

func (r *WalIndexRepository) Add(elt *domain.IndexElt) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := indexKey{id: elt.Id, blobType: elt.Type}
	if _, exists := r.byKey[key]; exists {
		return domain.ErrDuplicateEntry
	}

	stored := elt.Copy()
	if err := r.append(utils.IndexRecord{Op: utils.OpPut, Elt: *stored}); err != nil {
		return err
	}
	r.apply(stored)
	return nil
}

func (r *WalIndexRepository) GetById(id int64, blobType int) (*domain.IndexElt, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	elt, ok := r.byKey[indexKey{id: id, blobType: blobType}]
	if !ok {
		return nil, false
	}
	return elt.Copy(), true
}

func (r *WalIndexRepository) ListById(id int64) []*domain.IndexElt {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.IndexElt
	for key, elt := range r.byKey {
		if key.id == id {
			out = append(out, elt.Copy())
		}
	}
	return out
}

func (r *WalIndexRepository) ListByPartition(partition *domain.Partition) []*domain.IndexElt {
	return r.listByPartition(partition, true)
}

func (r *WalIndexRepository) LiveListByPartition(partition *domain.Partition) []*domain.IndexElt {
	return r.listByPartition(partition, false)
}

func (r *WalIndexRepository) listByPartition(partition *domain.Partition, includeDeleted bool) []*domain.IndexElt {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tm, ok := r.byPartition[partitionKey{disk: partition.Disk, id: partition.Id}]
	if !ok {
		return nil
	}

	var out []*domain.IndexElt
	it := tm.Iterator()
	for it.Next() {
		elt := it.Value().(*domain.IndexElt)
		if !includeDeleted && elt.Deleted {
			continue
		}
		out = append(out, elt.Copy())
	}
	return out
}

func (r *WalIndexRepository) MinMaxRange(partition *domain.Partition) (int64, int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tm, ok := r.byPartition[partitionKey{disk: partition.Disk, id: partition.Id}]
	if !ok || tm.Empty() {
		return 0, 0, false
	}
	minKey, _ := tm.Min()
	maxKey, _ := tm.Max()
	return minKey.(indexKey).id, maxKey.(indexKey).id, true
}

func (r *WalIndexRepository) SizeOfDeleted(partition *domain.Partition) int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.deletedSize[partitionKey{disk: partition.Disk, id: partition.Id}]
}

func (r *WalIndexRepository) Delete(elt *domain.IndexElt) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := indexKey{id: elt.Id, blobType: elt.Type}
	current, exists := r.byKey[key]
	if !exists || current.Deleted {
		return nil
	}

	record := *current
	record.Deleted = true
	if err := r.append(utils.IndexRecord{Op: utils.OpDelete, Elt: record}); err != nil {
		return err
	}
	r.applyDelete(current)
	return nil
}

func (r *WalIndexRepository) Restore(elt *domain.IndexElt) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := elt.Copy()
	stored.Deleted = false
	if err := r.append(utils.IndexRecord{Op: utils.OpRestore, Elt: *stored}); err != nil {
		return err
	}
	r.apply(stored)
	return nil
}

func (r *WalIndexRepository) AddTempIndex(elt *domain.TempIndexElt) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.tempWal.Write(utils.TempRecord{Op: utils.OpTempAdd, Elt: *elt}); err != nil {
		return err
	}
	copied := *elt
	r.temp[indexKey{id: elt.Id, blobType: elt.Type}] = &copied
	return nil
}

func (r *WalIndexRepository) DeleteTempIndex(id int64, blobType int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := indexKey{id: id, blobType: blobType}
	if _, exists := r.temp[key]; !exists {
		return nil
	}
	rec := utils.TempRecord{Op: utils.OpTempDelete, Elt: domain.TempIndexElt{Id: id, Type: blobType}}
	if err := r.tempWal.Write(rec); err != nil {
		return err
	}
	delete(r.temp, key)
	return nil
}

func (r *WalIndexRepository) GetTempIndexList(limit int) []*domain.TempIndexElt {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.TempIndexElt
	for _, elt := range r.temp {
		if len(out) >= limit {
			break
		}
		copied := *elt
		out = append(out, &copied)
	}
	return out
}

func (r *WalIndexRepository) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byKey = make(map[indexKey]*domain.IndexElt)
	r.byPartition = make(map[partitionKey]*treemap.Map)
	r.deletedSize = make(map[partitionKey]int64)
	r.temp = make(map[indexKey]*domain.TempIndexElt)
	if err := r.wal.Truncate(); err != nil {
		r.logger.Warn("truncate index log", zap.Error(err))
	}
	if err := r.tempWal.Truncate(); err != nil {
		r.logger.Warn("truncate temp index log", zap.Error(err))
	}
}

func (r *WalIndexRepository) Close() error {
	if err := r.wal.Close(); err != nil {
		return err
	}
	return r.tempWal.Close()
}

func (r *WalIndexRepository) append(rec utils.IndexRecord) error {
	if err := r.wal.Write(rec); err != nil {
		return err
	}
	if r.syncAll {
		return r.wal.Sync()
	}
	return nil
}
