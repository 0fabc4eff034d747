package main

import (
	"flag"
	"log"

	"blobkeeper/bootstrap"
)

func main() {
	flag.Parse()

	if _, err := bootstrap.Run(); err != nil {
		log.Fatal("bootstrap failed: ", err)
	}
}
