package utils

import (
	"encoding/binary"
	"errors"
	"io"

	json "github.com/json-iterator/go"

	. "blobkeeper/internal/domain"
)

// Index log operations.
const (
	OpPut byte = iota + 1
	OpDelete
	OpRestore
)

// Temp index log operations.
const (
	OpTempAdd byte = iota + 1
	OpTempDelete
)

type IndexRecord struct {
	Op  byte
	Elt IndexElt
}

type TempRecord struct {
	Op  byte
	Elt TempIndexElt
}

func AppendIndexRecord(f io.Writer, rec IndexRecord) error {
	if err := binary.Write(f, binary.LittleEndian, rec.Op); err != nil {
		return err
	}
	fixed := []interface{}{
		rec.Elt.Id,
		int32(rec.Elt.Type),
		int32(rec.Elt.Disk),
		int32(rec.Elt.Partition),
		rec.Elt.Offset,
		rec.Elt.Length,
		rec.Elt.Crc,
		rec.Elt.Created,
	}
	for _, field := range fixed {
		if err := binary.Write(f, binary.LittleEndian, field); err != nil {
			return err
		}
	}
	var deletedByte byte = 0
	if rec.Elt.Deleted {
		deletedByte = 1
	}
	if err := binary.Write(f, binary.LittleEndian, deletedByte); err != nil {
		return err
	}
	return writeBlob(f, mustMarshalMetadata(rec.Elt.Metadata))
}

func ReadOneIndexRecord(r io.Reader) (IndexRecord, error) {
	var rec IndexRecord

	if err := binary.Read(r, binary.LittleEndian, &rec.Op); err != nil {
		return rec, err
	}

	var blobType, disk, partition int32
	fixed := []interface{}{
		&rec.Elt.Id,
		&blobType,
		&disk,
		&partition,
		&rec.Elt.Offset,
		&rec.Elt.Length,
		&rec.Elt.Crc,
		&rec.Elt.Created,
	}
	for _, field := range fixed {
		if err := binary.Read(r, binary.LittleEndian, field); err != nil {
			return rec, err
		}
	}
	rec.Elt.Type = int(blobType)
	rec.Elt.Disk = int(disk)
	rec.Elt.Partition = int(partition)

	var deletedByte byte
	if err := binary.Read(r, binary.LittleEndian, &deletedByte); err != nil {
		return rec, err
	}
	rec.Elt.Deleted = deletedByte != 0

	meta, err := readBlob(r)
	if err != nil {
		return rec, err
	}
	rec.Elt.Metadata, err = unmarshalMetadata(meta)
	return rec, err
}

func ReadAllIndexRecords(f io.Reader) ([]IndexRecord, error) {
	var records []IndexRecord
	for {
		rec, err := ReadOneIndexRecord(f)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func AppendTempRecord(f io.Writer, rec TempRecord) error {
	if err := binary.Write(f, binary.LittleEndian, rec.Op); err != nil {
		return err
	}
	if err := binary.Write(f, binary.LittleEndian, rec.Elt.Id); err != nil {
		return err
	}
	if err := binary.Write(f, binary.LittleEndian, int32(rec.Elt.Type)); err != nil {
		return err
	}
	if err := binary.Write(f, binary.LittleEndian, rec.Elt.Created); err != nil {
		return err
	}
	if err := writeBlob(f, []byte(rec.Elt.File)); err != nil {
		return err
	}
	return writeBlob(f, mustMarshalMetadata(rec.Elt.Metadata))
}

func ReadOneTempRecord(r io.Reader) (TempRecord, error) {
	var rec TempRecord

	if err := binary.Read(r, binary.LittleEndian, &rec.Op); err != nil {
		return rec, err
	}
	if err := binary.Read(r, binary.LittleEndian, &rec.Elt.Id); err != nil {
		return rec, err
	}
	var blobType int32
	if err := binary.Read(r, binary.LittleEndian, &blobType); err != nil {
		return rec, err
	}
	rec.Elt.Type = int(blobType)
	if err := binary.Read(r, binary.LittleEndian, &rec.Elt.Created); err != nil {
		return rec, err
	}

	path, err := readBlob(r)
	if err != nil {
		return rec, err
	}
	rec.Elt.File = string(path)

	meta, err := readBlob(r)
	if err != nil {
		return rec, err
	}
	rec.Elt.Metadata, err = unmarshalMetadata(meta)
	return rec, err
}

func ReadAllTempRecords(f io.Reader) ([]TempRecord, error) {
	var records []TempRecord
	for {
		rec, err := ReadOneTempRecord(f)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func writeBlob(f io.Writer, data []byte) error {
	if err := binary.Write(f, binary.LittleEndian, uint32(len(data))); err != nil {
		return err
	}
	_, err := f.Write(data)
	return err
}

func readBlob(r io.Reader) ([]byte, error) {
	var length uint32
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return nil, err
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}

func mustMarshalMetadata(metadata map[string][]string) []byte {
	if len(metadata) == 0 {
		return nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return nil
	}
	return data
}

func unmarshalMetadata(data []byte) (map[string][]string, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var metadata map[string][]string
	if err := json.Unmarshal(data, &metadata); err != nil {
		return nil, err
	}
	return metadata, nil
}
