package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/fpc-kitakami/fpcd/fingerprint"
	"github.com/fpc-kitakami/fpcd/fpc/info"
	"github.com/spf13/cobra"
)

var errAttempts = errors.New("no usable capture within the allowed attempts")

// loadIfPresent restores the template database when a snapshot exists.
func loadIfPresent(e *env) error {
	if _, err := os.Stat(e.cfg.DBPath); errors.Is(err, os.ErrNotExist) {
		e.l.Debugw("no db snapshot", "path", e.cfg.DBPath)
		return nil
	}

	return e.m.LoadDatabase(e.cfg.DBPath)
}

// capture retries until the sensor returns an image.
func capture(e *env, attempts int) error {
	for i := 0; i < attempts; i++ {
		ret, err := e.m.CaptureImage()
		if err != nil {
			return err
		}

		if ret == 0 {
			return nil
		}

		if ret != info.CaptureNothing {
			e.l.Warnw("capture failed", "result", ret)
		}
	}

	return errAttempts
}

func enrollCmd(a *args) *cobra.Command {
	var hint int32

	cmd := &cobra.Command{
		Use:   "enroll",
		Short: "Enroll a new fingerprint and store the template database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := newEnv(a)
			if err != nil {
				return err
			}

			return e.run(func() error {
				if err := loadIfPresent(e); err != nil {
					return err
				}

				if err := e.m.EnrollStart(hint); err != nil {
					return err
				}

				for e.m.State() == fingerprint.Enrolling {
					fmt.Fprintln(cmd.OutOrStdout(), "touch the sensor")

					if err := capture(e, a.attempts); err != nil {
						return err
					}

					left, err := e.m.EnrollStep()
					if errors.Is(err, fingerprint.ErrRemainingTouches) {
						e.l.Warnw("touch accepted", "error", err)
						continue
					}

					if err != nil {
						return err
					}

					e.l.Infow("touch accepted", "remaining", left)
				}

				id, err := e.m.EnrollEnd()
				if err != nil {
					return err
				}

				fmt.Fprintf(cmd.OutOrStdout(), "enrolled %#x\n", id)

				return e.m.StoreDatabase(0, e.cfg.DBPath)
			})
		},
	}

	cmd.Flags().Int32Var(&hint, "hint", 0, "slot hint passed to the trustlet")

	return cmd
}

func authCmd(a *args) *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Match a finger against the enrolled templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := newEnv(a)
			if err != nil {
				return err
			}

			return e.run(func() error {
				if err := loadIfPresent(e); err != nil {
					return err
				}

				if err := e.m.AuthStart(); err != nil {
					return err
				}
				defer e.m.AuthEnd()

				for i := 0; i < a.attempts; i++ {
					fmt.Fprintln(cmd.OutOrStdout(), "touch the sensor")

					if err := capture(e, a.attempts); err != nil {
						return err
					}

					id, err := e.m.AuthStep()
					if errors.Is(err, fingerprint.ErrNoMatch) {
						e.l.Infow("no match", "attempt", i)
						continue
					}

					if err != nil {
						return err
					}

					fmt.Fprintf(cmd.OutOrStdout(), "matched %#x\n", id)

					return nil
				}

				return errAttempts
			})
		},
	}
}

func listCmd(a *args) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List enrolled print identifiers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := newEnv(a)
			if err != nil {
				return err
			}

			return e.run(func() error {
				if err := loadIfPresent(e); err != nil {
					return err
				}

				ids, err := e.m.PrintIDs()
				if err != nil {
					return err
				}

				for _, id := range ids {
					fmt.Fprintf(cmd.OutOrStdout(), "%#x\n", id)
				}

				return nil
			})
		},
	}
}

func deleteCmd(a *args) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete an enrolled print and store the template database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, argv []string) error {
			id, err := strconv.ParseUint(argv[0], 0, 32)
			if err != nil {
				return fmt.Errorf("invalid print id %q, %w", argv[0], err)
			}

			e, err := newEnv(a)
			if err != nil {
				return err
			}

			return e.run(func() error {
				if err := loadIfPresent(e); err != nil {
					return err
				}

				if err := e.m.DeletePrint(uint32(id)); err != nil {
					return err
				}

				return e.m.StoreDatabase(0, e.cfg.DBPath)
			})
		},
	}
}

func dbCmd(a *args) *cobra.Command {
	db := &cobra.Command{
		Use:   "db",
		Short: "Template database snapshots",
	}

	var length uint32

	store := &cobra.Command{
		Use:   "store PATH",
		Short: "Write a snapshot of the template database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, argv []string) error {
			e, err := newEnv(a)
			if err != nil {
				return err
			}

			return e.run(func() error {
				if err := loadIfPresent(e); err != nil {
					return err
				}

				return e.m.StoreDatabase(length, argv[0])
			})
		},
	}
	store.Flags().Uint32Var(&length, "length", 0, "snapshot length, 0 queries the trustlet")

	load := &cobra.Command{
		Use:   "load PATH",
		Short: "Replace the template database with a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, argv []string) error {
			e, err := newEnv(a)
			if err != nil {
				return err
			}

			return e.run(func() error {
				if err := e.m.LoadDatabase(argv[0]); err != nil {
					return err
				}

				n, err := e.m.DatabaseLength()
				if err != nil {
					return err
				}

				fmt.Fprintf(cmd.OutOrStdout(), "loaded %d bytes\n", n)

				return nil
			})
		},
	}

	db.AddCommand(store, load)

	return db
}
