// Package main contains the inspection cli for page files. It uses the
// cobra package for the command tree; the storage engine itself has no
// CLI dependence.
package main

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"pagedb/internal/config"
	"pagedb/internal/store"
)

type inspectFlags struct {
	configFile string
	pages      bool
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "pagedb",
		Short: "Page-file inspection tool",
	}

	rootCmd.AddCommand(inspectCmd())
	rootCmd.AddCommand(verifyCmd())
	rootCmd.AddCommand(linkPingCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.ParseFile(path)
}

func inspectCmd() *cobra.Command {
	flags := &inspectFlags{}
	cmd := &cobra.Command{
		Use:   "inspect <file>",
		Short: "Dump chunk header, footer and page occupancy",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runInspect(args[0], flags)
		},
	}

	cmd.Flags().StringVarP(&flags.configFile, "config", "c", "", "Engine configuration file (TOML)")
	cmd.Flags().BoolVarP(&flags.pages, "pages", "p", false, "Print a per-page type listing")

	return cmd
}

var pageTypeNames = map[store.PageType]string{
	store.PageEmpty:            "empty",
	store.PageDataLeaf:         "data-leaf",
	store.PageDataNode:         "data-node",
	store.PageBTreeLeaf:        "btree-leaf",
	store.PageBTreeNode:        "btree-node",
	store.PageDataOverflow:     "data-overflow",
	store.PageDataOverflowLast: "data-overflow-last",
	store.PageFreeList:         "free-list",
	store.PageLog:              "log",
}

func runInspect(path string, flags *inspectFlags) error {
	cfg, err := loadConfig(flags.configFile)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	head := make([]byte, store.BlockSize)
	if _, err := f.ReadAt(head, 0); err != nil && err != io.EOF {
		return fmt.Errorf("read chunk header: %w", err)
	}
	h, err := store.ParseChunkHeader(head[:store.HeaderMaxLen])
	if err != nil {
		return err
	}
	fmt.Printf("chunk %d  block %d  version %d\n", h.Chunk, h.Block, h.Version)
	fmt.Printf("pages %d  livePages %d  occupancy %d‰\n", h.Pages, h.LivePages, h.Occupancy)
	if h.Time > 0 {
		fmt.Printf("written %s\n", time.UnixMilli(h.Time).Format(time.RFC3339))
	}

	footOff := int64(store.BlockSize) + h.Pages*int64(cfg.PageSize)
	foot := make([]byte, store.FooterLen)
	if _, err := f.ReadAt(foot, footOff); err != nil {
		fmt.Println("footer: missing (unclean shutdown)")
	} else if ft, err := store.ParseChunkFooter(foot); err != nil {
		fmt.Printf("footer: invalid (%v)\n", err)
	} else if ft.Version != h.Version {
		fmt.Printf("footer: stale version %d (unclean shutdown)\n", ft.Version)
	} else {
		fmt.Println("footer: valid, clean shutdown")
	}

	hist := map[store.PageType]int{}
	buf := make([]byte, cfg.PageSize)
	for id := int64(1); id <= h.Pages; id++ {
		off := int64(store.BlockSize) + (id-1)*int64(cfg.PageSize)
		if _, err := f.ReadAt(buf, off); err != nil {
			return fmt.Errorf("read page %d: %w", id, err)
		}
		typ := store.PageType(buf[0] &^ (store.FlagLast | 0x20))
		hist[typ]++
		if flags.pages {
			name := pageTypeNames[typ]
			if name == "" {
				name = fmt.Sprintf("type-%d", typ)
			}
			parent := binary.BigEndian.Uint32(buf[3:7])
			fmt.Printf("  page %-6d %-18s parent %d\n", id, name, parent)
		}
	}
	for typ, name := range pageTypeNames {
		if n := hist[typ]; n > 0 {
			fmt.Printf("%-18s %d\n", name, n)
		}
	}
	return nil
}

func verifyCmd() *cobra.Command {
	flags := &inspectFlags{}
	cmd := &cobra.Command{
		Use:   "verify <file>",
		Short: "Re-check page checksums offline",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runVerify(args[0], flags)
		},
	}

	cmd.Flags().StringVarP(&flags.configFile, "config", "c", "", "Engine configuration file (TOML)")

	return cmd
}

func runVerify(path string, flags *inspectFlags) error {
	cfg, err := loadConfig(flags.configFile)
	if err != nil {
		return err
	}
	cfg.ReadOnly = true
	st, err := store.Open(path, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if !st.CleanShutdown() {
		fmt.Println("warning: unclean shutdown; secondary indexes need a rebuild")
	}
	bad := 0
	for id := 1; id <= st.PageCount(); id++ {
		buf, err := st.Read(id)
		if err != nil {
			// Freed pages are not readable; that is expected.
			continue
		}
		typ := store.PageType(buf[0] &^ (store.FlagLast | 0x20))
		if typ == store.PageEmpty {
			continue
		}
		want := binary.BigEndian.Uint16(buf[1:3])
		c0, c1 := buf[1], buf[2]
		buf[1], buf[2] = 0, 0
		got := uint16(store.Fletcher32(buf))
		buf[1], buf[2] = c0, c1
		if got != want {
			fmt.Printf("page %d: checksum mismatch\n", id)
			bad++
		}
	}
	if bad > 0 {
		return fmt.Errorf("%d corrupted pages", bad)
	}
	fmt.Printf("%d pages verified, %d live\n", st.PageCount(), st.LivePages())
	return nil
}

func linkPingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "link-ping <driver> <dsn>",
		Short: "Check connectivity to a linked-table remote",
		Long: `link-ping opens the given driver/DSN pair the way a linked table
would and runs a connection check. Supported drivers: mysql, postgres,
sqlite.`,
		Args: cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			db, err := sql.Open(args[0], args[1])
			if err != nil {
				return err
			}
			defer db.Close()
			if err := db.Ping(); err != nil {
				return fmt.Errorf("remote not reachable: %w", err)
			}
			fmt.Println("ok")
			return nil
		},
	}
	return cmd
}
