// The rodbinfo program opens a snapshot blob and prints its header and
// per-type schema list: a tiny introspection tool layered over the
// library's public read path, not a reimplementation of it.
package main

import (
	"fmt"
	"log"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/lakshaybadak/rodb/blob"
	"github.com/lakshaybadak/rodb/engine"
	"github.com/lakshaybadak/rodb/internal/recycler"
	"github.com/lakshaybadak/rodb/internal/segment"
	"github.com/lakshaybadak/rodb/reader"
)

var rootCmd = &cobra.Command{
	Use:   "rodbinfo <path>",
	Short: "print a rodb snapshot blob's header and per-type schema list",
	Args:  cobra.ExactArgs(1),
	RunE:  run,
}

func main() {
	log.SetFlags(0)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	path := args[0]
	in, err := blob.Open(path, blob.SharedMemoryLazy)
	if err != nil {
		return err
	}
	defer in.Close()

	eng := engine.New(recycler.New(1 << segment.Shift))
	header, err := reader.ReadSnapshot(in, eng, nil)
	if err != nil {
		return err
	}

	fmt.Printf("format version: %d\n", header.BlobFormatVersion)
	fmt.Printf("origin tag:      %#x\n", header.OriginRandomizedTag)
	fmt.Printf("destination tag: %#x\n", header.DestinationRandomizedTag)
	if len(header.Tags) > 0 {
		fmt.Println("tags:")
		keys := make([]string, 0, len(header.Tags))
		for k := range header.Tags {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", k, header.Tags[k])
		}
	}

	names := eng.TypeNames()
	sort.Strings(names)
	fmt.Printf("types: %d\n", len(names))
	for _, name := range names {
		ts, _ := eng.GetTypeState(name)
		fmt.Printf("  %-24s shards=%-4d populated=%d\n", name, ts.NumShards(), len(ts.Populated()))
	}

	return nil
}
