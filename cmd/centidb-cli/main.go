// Command centidb-cli is a small inspection tool over a goleveldb-backed
// store: dump catalog descriptors, print summary statistics, or trigger
// a compaction. Grounded on darshanime-pebble's use of
// github.com/spf13/cobra for its own storage-engine tooling.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"centidb.dev/centidb/catalog"
	"centidb.dev/centidb/enginekv"
	"centidb.dev/centidb/enginekv/leveldb"
)

var (
	dbPath  string
	rootIdx uint8
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "centidb-cli",
		Short: "Inspect a centidb goleveldb-backed store",
	}
	root.PersistentFlags().StringVar(&dbPath, "db", "", "path to the goleveldb database file")
	root.MarkPersistentFlagRequired("db")

	root.AddCommand(newDumpCmd(), newStatCmd(), newCompactCmd())
	return root
}

func openCatalog() (enginekv.KV, *catalog.Catalog, error) {
	eng, err := leveldb.NewStorage(dbPath)
	if err != nil {
		return nil, nil, err
	}
	cat, err := catalog.Open(eng, []byte{rootIdx}, nil)
	if err != nil {
		eng.Close()
		return nil, nil, err
	}
	return eng, cat, nil
}

func newDumpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print every registered collection, counter, and custom encoder",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, cat, err := openCatalog()
			if err != nil {
				return err
			}
			defer eng.Close()

			for _, d := range cat.Collections() {
				if d.HasParent {
					fmt.Printf("index      %-24s idx=%-4d parent=%s\n", d.Name, d.Idx, d.ParentName)
				} else {
					fmt.Printf("collection %-24s idx=%d\n", d.Name, d.Idx)
				}
			}
			for _, d := range cat.Counters() {
				fmt.Printf("counter    %-24s value=%d\n", d.Name, d.Idx)
			}
			for _, d := range cat.CustomEncoders() {
				fmt.Printf("encoder    %-24s id=%d\n", d.Name, d.Idx)
			}
			return nil
		},
	}
	cmd.Flags().Uint8Var(&rootIdx, "root", 0x50, "catalog root prefix byte")
	return cmd
}

func newStatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stat",
		Short: "Print summary counts for the store's catalog namespaces",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, cat, err := openCatalog()
			if err != nil {
				return err
			}
			defer eng.Close()

			fmt.Printf("root prefix:      0x%02x\n", rootIdx)
			fmt.Printf("collections+idx:  %d\n", len(cat.Collections()))
			fmt.Printf("counters:         %d\n", len(cat.Counters()))
			fmt.Printf("custom encoders:  %d\n", len(cat.CustomEncoders()))
			fmt.Printf("built-in encoders: key=%d pickle=%d plain=%d zlib=%d\n",
				catalog.EncoderKey, catalog.EncoderPickle, catalog.EncoderPlain, catalog.EncoderZlib)
			return nil
		},
	}
	cmd.Flags().Uint8Var(&rootIdx, "root", 0x50, "catalog root prefix byte")
	return cmd
}

func newCompactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Trigger a full-keyspace compaction",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := leveldb.NewStorage(dbPath)
			if err != nil {
				return err
			}
			defer eng.Close()

			compactor, ok := eng.(enginekv.Compactor)
			if !ok {
				return fmt.Errorf("centidb-cli: engine does not support compaction")
			}
			if err := compactor.Compact(); err != nil {
				return err
			}
			fmt.Println("compaction complete")
			return nil
		},
	}
}
