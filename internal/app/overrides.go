package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"chain-screening/internal/overrides"
	"chain-screening/internal/storage"
)

// OverrideEntryOptions describe one add/remove request.
type OverrideEntryOptions struct {
	List      overrides.List
	Address   string
	Chains    []string
	Reason    string
	AddedBy   string
	ExpiresIn time.Duration
}

// overrideSession bundles the loaded manager with where changes must be written back.
type overrideSession struct {
	mgr   *overrides.Manager
	store storage.OverrideStore
	files map[overrides.List]string
	close func()
}

func (a *App) openOverrides(ctx context.Context) (*overrideSession, error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	if closeStore == nil {
		closeStore = func() {}
	}

	mgr, err := a.newOverrides(ctx, overrideStore(store))
	if err != nil {
		closeStore()
		return nil, err
	}
	return &overrideSession{
		mgr:   mgr,
		store: overrideStore(store),
		files: map[overrides.List]string{
			overrides.Blocklist: a.Config.Overrides.BlocklistFile,
			overrides.Allowlist: a.Config.Overrides.AllowlistFile,
		},
		close: closeStore,
	}, nil
}

// persist writes list back to the database or, without one, to its seed file.
func (s *overrideSession) persist(ctx context.Context, list overrides.List, changed []overrides.Entry, removed []string) error {
	if s.store != nil {
		for _, e := range changed {
			if err := s.store.UpsertOverride(ctx, list, e); err != nil {
				return err
			}
		}
		for _, addr := range removed {
			if _, err := s.store.DeleteOverride(ctx, list, addr); err != nil {
				return err
			}
		}
		return nil
	}

	path := s.files[list]
	if path == "" {
		return fmt.Errorf("no database or overrides.%s_file configured; change would be lost", list)
	}
	entries, err := s.mgr.Export(list)
	if err != nil {
		return err
	}
	return overrides.WriteFile(path, entries)
}

// OverridesAdd upserts one entry.
func (a *App) OverridesAdd(ctx context.Context, opts OverrideEntryOptions) error {
	sess, err := a.openOverrides(ctx)
	if err != nil {
		return err
	}
	defer sess.close()

	entry := overrides.Entry{
		Address: opts.Address,
		Chains:  opts.Chains,
		Reason:  opts.Reason,
		AddedBy: opts.AddedBy,
		AddedAt: time.Now().UTC(),
	}
	if opts.ExpiresIn > 0 {
		exp := entry.AddedAt.Add(opts.ExpiresIn)
		entry.ExpiresAt = &exp
	}
	if err := sess.mgr.Add(opts.List, entry); err != nil {
		return err
	}
	if err := sess.persist(ctx, opts.List, []overrides.Entry{entry}, nil); err != nil {
		return err
	}

	a.Logger.Info().Str("list", string(opts.List)).Str("address", opts.Address).Msg("override entry added")
	return nil
}

// OverridesRemove deletes one entry; removing an unknown address is an error.
func (a *App) OverridesRemove(ctx context.Context, list overrides.List, address string) error {
	sess, err := a.openOverrides(ctx)
	if err != nil {
		return err
	}
	defer sess.close()

	if !sess.mgr.Remove(list, address) {
		return fmt.Errorf("%s has no entry for %s", list, address)
	}
	if err := sess.persist(ctx, list, nil, []string{address}); err != nil {
		return err
	}

	a.Logger.Info().Str("list", string(list)).Str("address", address).Msg("override entry removed")
	return nil
}

// OverridesImport loads a JSON or CSV file into list.
func (a *App) OverridesImport(ctx context.Context, list overrides.List, path string) error {
	entries, err := overrides.ReadFile(path)
	if err != nil {
		return err
	}

	sess, err := a.openOverrides(ctx)
	if err != nil {
		return err
	}
	defer sess.close()

	n, err := sess.mgr.Import(list, entries)
	if err != nil {
		return err
	}
	if err := sess.persist(ctx, list, entries, nil); err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "imported %d entries into %s\n", n, list)
	return nil
}

// OverridesExport writes list to path, including expired entries.
func (a *App) OverridesExport(ctx context.Context, list overrides.List, path string) error {
	if path == "" {
		return errors.New("--out must be provided")
	}

	sess, err := a.openOverrides(ctx)
	if err != nil {
		return err
	}
	defer sess.close()

	entries, err := sess.mgr.Export(list)
	if err != nil {
		return err
	}
	if err := overrides.WriteFile(path, entries); err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "exported %d entries from %s to %s\n", len(entries), list, path)
	return nil
}

// OverridesShow prints list as a table.
func (a *App) OverridesShow(ctx context.Context, list overrides.List) error {
	sess, err := a.openOverrides(ctx)
	if err != nil {
		return err
	}
	defer sess.close()

	entries, err := sess.mgr.Export(list)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintf(os.Stdout, "%s is empty\n", list)
		return nil
	}

	now := time.Now()
	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Address\tChains\tReason\tAdded By\tAdded (UTC)\tExpires (UTC)\tStatus")
	for _, e := range entries {
		chains := "*"
		if len(e.Chains) > 0 {
			chains = strings.Join(e.Chains, ",")
		}
		expires := "-"
		if e.ExpiresAt != nil {
			expires = e.ExpiresAt.UTC().Format(time.RFC3339)
		}
		status := "active"
		if e.Expired(now) {
			status = "expired"
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Address,
			chains,
			sanitizeInline(e.Reason),
			e.AddedBy,
			e.AddedAt.UTC().Format(time.RFC3339),
			expires,
			status,
		)
	}

	writer.Flush()
	return nil
}
