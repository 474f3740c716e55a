// Copyright (c) 2023-2025 VoxBridge AI
// Author: Prashant Srivastav <prashant@voxbridge.ai>
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

// tenantctl administers tenant configuration documents.
//
//	tenantctl -tenant acme read
//	tenantctl -tenant acme set tts.voice af_heart
//	tenantctl -tenant acme set stt '{"mode":"http_wav_json","whisperUrl":"http://stt:9000/asr"}'
//	tenantctl -tenant acme unset tts.voice
//	tenantctl -tenant acme merge '{"caps":{"maxConcurrentCallsTenant":3}}'
//	tenantctl -tenant acme -dry-run merge @patch.json
//
// Exits 0 on success, 1 on any validation or store error.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/voxbridgeai/api/bridge-api/config"
	internal_tenantcfg "github.com/voxbridgeai/api/bridge-api/tenantcfg"
	"github.com/voxbridgeai/pkg/commons"
	"github.com/voxbridgeai/pkg/connectors"
)

func main() {
	tenant := flag.String("tenant", "", "tenant id (required)")
	dryRun := flag.Bool("dry-run", false, "validate and print the result without writing")
	flag.Parse()

	if *tenant == "" || flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	if err := run(*tenant, *dryRun, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "tenantctl: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: tenantctl -tenant <id> [-dry-run] <read|set|unset|merge> [args]")
	fmt.Fprintln(os.Stderr, "  read")
	fmt.Fprintln(os.Stderr, "  set <dot.path> <value|json>")
	fmt.Fprintln(os.Stderr, "  unset <dot.path>")
	fmt.Fprintln(os.Stderr, "  merge <json|@file>")
}

func run(tenant string, dryRun bool, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, closeFn, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	switch args[0] {
	case "read":
		doc, err := store.Load(ctx, tenant)
		if err != nil {
			return err
		}
		return print(doc)

	case "set":
		if len(args) != 3 {
			return errors.New("set needs <dot.path> <value>")
		}
		doc, err := loadOrInit(ctx, store, tenant)
		if err != nil {
			return err
		}
		if err := internal_tenantcfg.SetPath(doc, args[1], internal_tenantcfg.InferLiteral(args[2])); err != nil {
			return err
		}
		return commit(ctx, store, tenant, doc, dryRun)

	case "unset":
		if len(args) != 2 {
			return errors.New("unset needs <dot.path>")
		}
		doc, err := store.Load(ctx, tenant)
		if err != nil {
			return err
		}
		removed, err := internal_tenantcfg.UnsetPath(doc, args[1])
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("path %q not present", args[1])
		}
		return commit(ctx, store, tenant, doc, dryRun)

	case "merge":
		if len(args) != 2 {
			return errors.New("merge needs <json|@file>")
		}
		patch, err := readPatch(args[1])
		if err != nil {
			return err
		}
		doc, err := loadOrInit(ctx, store, tenant)
		if err != nil {
			return err
		}
		return commit(ctx, store, tenant, internal_tenantcfg.DeepMerge(doc, patch), dryRun)

	default:
		usage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func openStore(ctx context.Context) (internal_tenantcfg.Store, func(), error) {
	vCfg, err := config.InitConfig()
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.GetApplicationConfig(vCfg)
	if err != nil {
		return nil, nil, err
	}

	logger := commons.NewApplicationLogger(commons.WithLogLevel("warn"))
	redisConn, err := connectors.NewRedisConnector(&cfg.RedisConfig, logger)
	if err != nil {
		return nil, nil, err
	}
	if err := redisConn.Ping(ctx); err != nil {
		redisConn.Close()
		return nil, nil, err
	}

	store := internal_tenantcfg.NewStore(logger, redisConn.Client(), internal_tenantcfg.StoreConfig{
		Prefix:    cfg.TenantcfgPrefix,
		MapPrefix: cfg.TenantmapPrefix,
	})
	return store, func() { redisConn.Close() }, nil
}

// loadOrInit returns the stored document, or a fresh v1 skeleton when none
// exists yet so "set" can bootstrap a tenant.
func loadOrInit(ctx context.Context, store internal_tenantcfg.Store, tenant string) (map[string]any, error) {
	doc, err := store.Load(ctx, tenant)
	if errors.Is(err, internal_tenantcfg.ErrNotFound) {
		return map[string]any{
			"contractVersion": internal_tenantcfg.ContractV1,
			"tenantId":        tenant,
		}, nil
	}
	return doc, err
}

func commit(ctx context.Context, store internal_tenantcfg.Store, tenant string, doc map[string]any, dryRun bool) error {
	if dryRun {
		if _, err := internal_tenantcfg.ValidateDocument(doc); err != nil {
			return err
		}
		fmt.Println("dry-run: document is valid, not writing")
		return print(doc)
	}
	if err := store.Save(ctx, tenant, doc); err != nil {
		return err
	}
	return print(doc)
}

func readPatch(arg string) (map[string]any, error) {
	raw := []byte(arg)
	if strings.HasPrefix(arg, "@") {
		b, err := os.ReadFile(strings.TrimPrefix(arg, "@"))
		if err != nil {
			return nil, err
		}
		raw = b
	}
	var patch map[string]any
	if err := json.Unmarshal(raw, &patch); err != nil {
		return nil, fmt.Errorf("invalid patch json: %w", err)
	}
	return patch, nil
}

func print(doc map[string]any) error {
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
