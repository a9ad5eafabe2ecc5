// Command loadgen drives a concurrent load of streaming chat-completion
// requests against an Azure OpenAI or OpenAI-compatible endpoint and
// reports sliding-window latency and throughput statistics.
package main

import (
	"fmt"
	"os"

	_ "go.uber.org/automaxprocs"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
