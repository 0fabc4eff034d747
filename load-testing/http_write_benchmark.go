package main

import (
	"crypto/rand"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
)

// Floods a running node's write path and reports throughput.
//
//	go run ./load-testing -url http://localhost:3000 -n 10000 -c 16 -size 4096

type saveResponse struct {
	Id   int64 `json:"id"`
	Type int   `json:"type"`
}

func main() {
	url := flag.String("url", "http://localhost:3000", "node base url")
	total := flag.Int("n", 10000, "number of blobs to write")
	concurrency := flag.Int("c", 16, "concurrent writers")
	size := flag.Int("size", 4096, "payload size in bytes")
	verify := flag.Bool("verify", false, "read every blob back after writing")
	flag.Parse()

	payload := make([]byte, *size)
	if _, err := rand.Read(payload); err != nil {
		log.Fatal(err)
	}

	var written, failed int64
	var mu sync.Mutex
	var ids []int64

	started := time.Now()
	var wg sync.WaitGroup
	perWorker := *total / *concurrency

	for w := 0; w < *concurrency; w++ {
		count := perWorker
		if w < *total%*concurrency {
			count++
		}
		wg.Add(1)
		go func(count int) {
			defer wg.Done()
			client := resty.New()
			for i := 0; i < count; i++ {
				var result saveResponse
				resp, err := client.R().
					SetBody(payload).
					SetResult(&result).
					Post(*url + "/blob/0")
				if err != nil || resp.IsError() {
					atomic.AddInt64(&failed, 1)
					continue
				}
				atomic.AddInt64(&written, 1)
				mu.Lock()
				ids = append(ids, result.Id)
				mu.Unlock()
			}
		}(count)
	}
	wg.Wait()
	elapsed := time.Since(started)

	fmt.Printf("written: %d, failed: %d\n", written, failed)
	fmt.Printf("elapsed: %s, throughput: %.0f writes/s, %.1f MB/s\n",
		elapsed,
		float64(written)/elapsed.Seconds(),
		float64(written)*float64(*size)/elapsed.Seconds()/(1024*1024))

	if *verify {
		verifyBlobs(*url, ids, *size)
	}
}

func verifyBlobs(url string, ids []int64, size int) {
	client := resty.New()
	missing := 0
	for _, id := range ids {
		resp, err := client.R().Get(fmt.Sprintf("%s/blob/%d/0", url, id))
		if err != nil || resp.IsError() || len(resp.Body()) != size {
			missing++
		}
	}
	out, _ := json.Marshal(map[string]interface{}{
		"verified": len(ids) - missing,
		"missing":  missing,
	})
	fmt.Println(string(out))
}
