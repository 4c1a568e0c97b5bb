// Command dlcpack builds, inspects, and extracts superpack blobs: the
// offline tooling counterpart to the dlcmanager library, used to produce
// test fixtures and to debug a blob's contents by hand.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/DataDog/zstd"
	"github.com/spf13/cobra"

	"github.com/davaengine/dlcmanager/pkg/litepack"
	"github.com/davaengine/dlcmanager/pkg/superpack"
)

var compressionLevel int

func main() {
	rootCmd := &cobra.Command{
		Use:   "dlcpack",
		Short: "Build, inspect, and extract superpack blobs",
	}
	rootCmd.PersistentFlags().IntVar(&compressionLevel, "level", zstd.BestSpeed, "zstd compression level used by build")

	rootCmd.AddCommand(buildCmd())
	rootCmd.AddCommand(inspectCmd())
	rootCmd.AddCommand(extractCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "build <src-dir> <out-file>",
		Short: "Pack every top-level subdirectory of src-dir as one pack into out-file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(args[0], args[1])
		},
	}
}

func runBuild(srcDir, outFile string) error {
	packDirs, err := topLevelDirs(srcDir)
	if err != nil {
		return fmt.Errorf("dlcpack build: %w", err)
	}

	b := superpack.NewBuilder()
	for i, packDir := range packDirs {
		b.AddPack(filepath.Base(packDir))
		if err := addPackFiles(b, srcDir, packDir, uint32(i)); err != nil {
			return fmt.Errorf("dlcpack build: %w", err)
		}
	}

	blob, err := b.Build()
	if err != nil {
		return fmt.Errorf("dlcpack build: %w", err)
	}
	if err := os.WriteFile(outFile, blob, 0o644); err != nil {
		return fmt.Errorf("dlcpack build: write %s: %w", outFile, err)
	}
	fmt.Printf("wrote %s (%d bytes, %d packs)\n", outFile, len(blob), len(packDirs))
	return nil
}

func topLevelDirs(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", root, err)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, filepath.Join(root, e.Name()))
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

func addPackFiles(b *superpack.Builder, srcDir, packDir string, packIndex uint32) error {
	return filepath.Walk(packDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		body, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		compressed, err := zstd.CompressLevel(nil, body, compressionLevel)
		if err != nil {
			return fmt.Errorf("compress %s: %w", path, err)
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		b.AddFile(filepath.ToSlash(rel), body, compressed, superpack.CompressionZstd, packIndex)
		return nil
	})
}

func inspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <file>",
		Short: "Print the footer, file table, and packs catalog of a superpack blob",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(args[0])
		},
	}
}

func runInspect(path string) error {
	blob, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("dlcpack inspect: %w", err)
	}
	footer, table, meta, err := parseBlob(blob)
	if err != nil {
		return fmt.Errorf("dlcpack inspect: %w", err)
	}

	fmt.Printf("footer: files_table_size=%d meta_data_size=%d\n", footer.Info.FilesTableSize, footer.Info.MetaDataSize)
	fmt.Printf("files (%d):\n", len(table.Entries))
	for i, e := range table.Entries {
		fmt.Printf("  [%d] %s size=%d compressed=%d start=%d pack=%d\n", i, table.Names[i], e.OriginalSize, e.CompressedSize, e.StartPosition, e.MetaIndex)
	}
	fmt.Printf("packs (%d):\n", len(meta.Packs))
	for i, p := range meta.Packs {
		fmt.Printf("  [%d] %s children=%v\n", i, p.Name, p.Children)
	}
	return nil
}

func extractCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "extract <file> <out-dir>",
		Short: "Extract every file in a superpack blob as a .dvpl artifact",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExtract(args[0], args[1])
		},
	}
}

func runExtract(path, outDir string) error {
	blob, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("dlcpack extract: %w", err)
	}
	_, table, _, err := parseBlob(blob)
	if err != nil {
		return fmt.Errorf("dlcpack extract: %w", err)
	}

	for i, e := range table.Entries {
		name := table.Names[i]
		end := e.StartPosition + uint64(e.CompressedSize)
		if end > uint64(len(blob)) {
			return fmt.Errorf("dlcpack extract: %s: range exceeds blob size", name)
		}
		body := blob[e.StartPosition:end]

		dest := filepath.Join(outDir, name+litepack.Ext)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return fmt.Errorf("dlcpack extract: %w", err)
		}
		f, err := os.Create(dest)
		if err != nil {
			return fmt.Errorf("dlcpack extract: %w", err)
		}
		if err := litepack.WriteArtifact(f, body, uint32(e.Compression)); err != nil {
			f.Close()
			return fmt.Errorf("dlcpack extract: %s: %w", name, err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("dlcpack extract: %w", err)
		}
	}
	fmt.Printf("extracted %d files to %s\n", len(table.Entries), outDir)
	return nil
}

// parseBlob locates and parses the trailing Footer, FileTable, and Meta
// sections of a superpack blob, the same fixed-from-the-end layout the
// init state machine reads over the network one section at a time.
func parseBlob(blob []byte) (superpack.Footer, superpack.FileTable, superpack.Meta, error) {
	var footer superpack.Footer
	var table superpack.FileTable
	var meta superpack.Meta

	if len(blob) < superpack.FooterSize {
		return footer, table, meta, fmt.Errorf("blob too small to contain a footer")
	}
	footerStart := len(blob) - superpack.FooterSize
	footer, err := superpack.ParseFooter(blob[footerStart:])
	if err != nil {
		return footer, table, meta, err
	}

	metaStart := footerStart - int(footer.Info.MetaDataSize)
	fileTableStart := metaStart - int(footer.Info.FilesTableSize)
	if fileTableStart < 0 || metaStart < 0 {
		return footer, table, meta, fmt.Errorf("footer section sizes exceed blob size")
	}

	table, err = superpack.ParseFileTable(blob[fileTableStart:metaStart], footer)
	if err != nil {
		return footer, table, meta, err
	}
	meta, err = superpack.ParseMeta(blob[metaStart:footerStart], footer)
	if err != nil {
		return footer, table, meta, err
	}
	return footer, table, meta, nil
}
