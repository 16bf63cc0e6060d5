package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the metadata store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			v, err := s.store.Version()
			if err != nil {
				return err
			}
			out := map[string]any{"path": s.cfg.MetaDBPath, "version": v}
			return render(cmd, out, func(w io.Writer) {
				_, _ = fmt.Fprintf(w, "metadata store %s at version %d\n", s.cfg.MetaDBPath, v)
			})
		},
	}
}
