package main

import (
	"context"
	"fmt"
	"os"

	"github.com/golem-go/golem/pkg/golem"
	"github.com/golem-go/golem/pkg/workerfsm"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// workerManifest is the YAML shape golemctl applies, the Go counterpart of
// the teacher's generic apiVersion/kind/metadata/spec WarrenResource, here
// specialized to the one kind golemctl knows about: a durable worker.
type workerManifest struct {
	APIVersion string `yaml:"apiVersion"`
	Kind       string `yaml:"kind"`
	Metadata   struct {
		Name string `yaml:"name"`
	} `yaml:"metadata"`
	Spec struct {
		Component        string            `yaml:"component"`
		ComponentVersion uint64            `yaml:"componentVersion"`
		Args             []string          `yaml:"args"`
		Env              map[string]string `yaml:"env"`
		Ephemeral        bool              `yaml:"ephemeral"`
	} `yaml:"spec"`
}

var applyCmd = &cobra.Command{
	Use:   "apply -f FILE",
	Short: "Create a worker from a YAML manifest",
	RunE:  runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML manifest to apply (required)")
	_ = applyCmd.MarkFlagRequired("file")
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}

	var manifest workerManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return fmt.Errorf("parse manifest: %w", err)
	}
	if manifest.Kind != "Worker" {
		return fmt.Errorf("unsupported manifest kind: %s", manifest.Kind)
	}
	if manifest.Metadata.Name == "" {
		return fmt.Errorf("metadata.name is required")
	}
	if manifest.Spec.Component == "" {
		return fmt.Errorf("spec.component is required")
	}

	componentUUID, err := uuid.Parse(manifest.Spec.Component)
	if err != nil {
		return fmt.Errorf("spec.component must be a UUID: %w", err)
	}

	db, oplogSvc, statusStore, err := openLocal(cmd)
	if err != nil {
		return fmt.Errorf("open local store: %w", err)
	}
	defer db.Close()

	owned := golem.OwnedWorkerId{
		WorkerId: golem.WorkerId{
			ComponentId: golem.ComponentId{UUID: componentUUID},
			WorkerName:  manifest.Metadata.Name,
		},
	}

	mode := golem.AgentModeDurable
	if manifest.Spec.Ephemeral {
		mode = golem.AgentModeEphemeral
	}

	worker := workerfsm.New(owned, oplogSvc.Open(owned), statusStore)
	ctx := context.Background()
	if err := worker.Create(ctx, golem.ComponentVersion(manifest.Spec.ComponentVersion), manifest.Spec.Args, manifest.Spec.Env, mode); err != nil {
		return fmt.Errorf("create worker: %w", err)
	}

	fmt.Printf("worker created: %s\n", owned.WorkerId)
	return nil
}
