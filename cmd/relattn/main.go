// Package main provides the relattn CLI: run the relative-position
// self-attention block, inspect and convert checkpoints.
package main

import (
	"os"

	"k8s.io/klog/v2"
)

func main() {
	defer klog.Flush()

	if err := newRootCmd().Execute(); err != nil {
		klog.Flush()
		os.Exit(1)
	}
}
