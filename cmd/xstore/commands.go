package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/hashmap-kz/xstore/pkg/storage"
)

func newPutCmd(opts *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "put <path> <file|->",
		Short: "Store a file (or stdin) at path, replacing existing content",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := readInput(cmd, args[1])
			if err != nil {
				return err
			}
			backend, release, err := openBackend(cmd.Context(), cmd, opts)
			if err != nil {
				return err
			}
			defer release()
			return backend.Put(cmd.Context(), args[0], content)
		},
	}
}

func newGetCmd(opts *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "get <path>",
		Short: "Write the content stored at path to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, release, err := openBackend(cmd.Context(), cmd, opts)
			if err != nil {
				return err
			}
			defer release()

			reader, ok := backend.(storage.Reader)
			if !ok {
				return fmt.Errorf("backend does not support reads")
			}
			content, err := reader.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(content)
			return err
		},
	}
}

func newDeletePrefixCmd(opts *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-prefix <prefix>",
		Short: "Delete everything stored at or under prefix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, release, err := openBackend(cmd.Context(), cmd, opts)
			if err != nil {
				return err
			}
			defer release()
			return backend.DeletePrefix(cmd.Context(), args[0])
		},
	}
}

func readInput(cmd *cobra.Command, src string) ([]byte, error) {
	if src == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(src)
}
