// Command camera-shm streams camera frames through shared memory under the
// control of a task registry.
//
// Usage:
//
//	camera-shm run --role producer --device 0 --task job-1
//	camera-shm run --role consumer --task job-2
//	camera-shm revoke job-1
//	camera-shm status job-1
//	camera-shm loopback --headless --max-frames 100
package main

import (
	"os"
)

const version = "v0.1.0"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
