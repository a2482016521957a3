package main

import (
	"github.com/golem-go/golem/pkg/oplog"
	"github.com/golem-go/golem/pkg/storage/boltstore"
	"github.com/golem-go/golem/pkg/workerstatus"
	"github.com/spf13/cobra"
)

// openLocal opens the bbolt-backed stores golemctl drives directly,
// mirroring the teacher's embedded single-binary deployment mode (no
// remote manager to dial) rather than the RPC-client mode pkg/client used.
func openLocal(cmd *cobra.Command) (*boltstore.DB, *oplog.Service, *workerstatus.Store, error) {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	db, err := boltstore.Open(dataDir)
	if err != nil {
		return nil, nil, nil, err
	}
	oplogSvc := oplog.NewService(db.Indexed())
	statusStore := workerstatus.NewStore(db.KV())
	return db, oplogSvc, statusStore, nil
}
