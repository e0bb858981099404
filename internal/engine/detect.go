package engine

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Detect picks an engine backend. "docker" and "cli" force the respective
// binding; "auto" tries the Docker API first and falls back to the CLI.
func Detect(ctx context.Context, backend, dockerHost, binary string, cliTimeout time.Duration) (Engine, error) {
	if backend == "auto" || backend == "docker" {
		eng, err := NewDockerEngine(ctx, dockerHost)
		if err == nil {
			log.Println("Engine: using Docker API backend")
			return eng, nil
		}
		if backend == "docker" {
			return nil, err
		}
		log.Printf("Docker API backend unavailable: %v", err)
	}

	if backend == "auto" || backend == "cli" {
		eng, err := NewCLIEngine(binary, cliTimeout)
		if err == nil {
			log.Printf("Engine: using CLI backend (%s)", eng.Name())
			return eng, nil
		}
		if backend == "cli" {
			return nil, err
		}
		log.Printf("CLI backend unavailable: %v", err)
	}

	return nil, fmt.Errorf("no container engine backend available (tried: %s)", backend)
}
