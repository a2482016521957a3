package main

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/golem-go/golem/pkg/storage/fsblob"
	"github.com/spf13/cobra"
)

// componentBlobContainer is the blob-store container component binaries
// are uploaded under, path "<component-uuid>/<version>.wasm" -- the
// convention executor.ComponentLoader implementations read from.
const componentBlobContainer = "components"

var componentCmd = &cobra.Command{
	Use:   "component",
	Short: "Inspect uploaded components",
}

var componentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List component ids and versions present in the local blob store",
	RunE:  runComponentList,
}

func init() {
	componentCmd.AddCommand(componentListCmd)
}

type componentVersionRow struct {
	id      string
	version string
	bytes   int
}

func runComponentList(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	blobs, err := fsblob.New(dataDir + "/blobs")
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}
	defer blobs.Close()

	ctx := context.Background()
	paths, err := blobs.List(ctx, componentBlobContainer)
	if err != nil {
		return fmt.Errorf("list components: %w", err)
	}

	var rows []componentVersionRow
	for _, p := range paths {
		id := path.Dir(p)
		version := strings.TrimSuffix(path.Base(p), ".wasm")
		data, err := blobs.Get(ctx, componentBlobContainer, p)
		if err != nil {
			return fmt.Errorf("read component %s: %w", p, err)
		}
		rows = append(rows, componentVersionRow{id: id, version: version, bytes: len(data)})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].id != rows[j].id {
			return rows[i].id < rows[j].id
		}
		vi, _ := strconv.ParseUint(rows[i].version, 10, 64)
		vj, _ := strconv.ParseUint(rows[j].version, 10, 64)
		return vi < vj
	})

	if len(rows) == 0 {
		fmt.Println("no components found")
		return nil
	}
	fmt.Printf("%-36s  %-8s  %s\n", "COMPONENT", "VERSION", "SIZE")
	for _, r := range rows {
		fmt.Printf("%-36s  %-8s  %d\n", r.id, r.version, r.bytes)
	}
	return nil
}
