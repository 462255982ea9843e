// Command capsule-tool inspects and unpacks capsule archives: listing
// entries, printing manifests, extracting contents, and streaming chained
// nested addresses. It operates on artifacts at rest and is not part of
// the launch path.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/opencontainers/go-digest"
	"github.com/spf13/cobra"

	"github.com/capsulekit/capsule"
	"github.com/capsulekit/capsule/nested"
)

func main() {
	root := &cobra.Command{
		Use:           "capsule-tool",
		Short:         "Inspect and unpack capsule archives",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newListCmd(), newManifestCmd(), newExtractCmd(), newResolveCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "capsule-tool:", err)
		os.Exit(1)
	}
}

func openArchive(path string) (capsule.Archive, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return capsule.NewDirArchive(path)
	}
	return capsule.OpenFile(path)
}

func newListCmd() *cobra.Command {
	var withDigest bool
	cmd := &cobra.Command{
		Use:   "list <archive>",
		Short: "List entries in physical order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openArchive(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for entry := range a.Entries() {
				if entry.Dir {
					fmt.Fprintf(out, "%12s  %s\n", "-", entry.Name)
					continue
				}
				if withDigest {
					d, err := entryDigest(a, entry.Name)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "%12d  %s  %s\n", entry.Size, d, entry.Name)
					continue
				}
				fmt.Fprintf(out, "%12d  %s\n", entry.Size, entry.Name)
			}
			return a.Err()
		},
	}
	cmd.Flags().BoolVar(&withDigest, "digest", false, "print each entry's content digest")
	return cmd
}

func entryDigest(a capsule.Archive, name string) (digest.Digest, error) {
	f, err := a.Open(name)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return digest.Canonical.FromReader(f)
}

func newManifestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "manifest <archive>",
		Short: "Print the archive manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openArchive(args[0])
			if err != nil {
				return err
			}
			m, err := a.Manifest()
			if err != nil {
				return err
			}
			if m == nil {
				return fmt.Errorf("%s has no manifest", args[0])
			}
			for _, key := range m.Keys() {
				value, _ := m.Get(key)
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", key, value)
			}
			return nil
		},
	}
}

func newExtractCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "extract <archive> [dest]",
		Short: "Extract all file entries to a directory",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dest := "."
			if len(args) == 2 {
				dest = args[1]
			}
			a, err := openArchive(args[0])
			if err != nil {
				return err
			}
			for entry := range a.Entries() {
				if entry.Dir {
					continue
				}
				if err := extractEntry(a, entry.Name, dest); err != nil {
					return err
				}
			}
			return a.Err()
		},
	}
}

func extractEntry(a capsule.Archive, name, dest string) error {
	if strings.Contains(name, "..") {
		return fmt.Errorf("refusing to extract entry %q outside destination", name)
	}
	src, err := a.Open(name)
	if err != nil {
		return err
	}
	defer src.Close()

	target := filepath.Join(dest, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	dst, err := os.Create(target) //nolint:gosec // target is rooted in dest above
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

func newResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <address>",
		Short: "Stream the resource at a chained nested address to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := nested.ParseAddress(args[0])
			if err != nil {
				return err
			}
			rc, err := nested.Default().Open(addr)
			if err != nil {
				return err
			}
			defer rc.Close()
			_, err = io.Copy(cmd.OutOrStdout(), rc)
			return err
		},
	}
}
