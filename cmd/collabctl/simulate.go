package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"section-collab-be/internal/dto"
	"section-collab-be/internal/entity"
	"section-collab-be/internal/inproc"
	"section-collab-be/internal/pkg/logger"
	"section-collab-be/pkg/collabclient"
	"section-collab-be/pkg/collaberr"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Replay the core editing scenarios against an in-process deployment",
	Long: `simulate starts the version store, lock manager and broadcaster in memory,
then drives two editors through typing and autosave, a lock conflict, a
remote update next to a held section, and an abandoned lease.`,
	RunE: runSimulate,
}

var (
	simLeaseTTL time.Duration
	simDebounce time.Duration
)

func init() {
	simulateCmd.Flags().DurationVar(&simLeaseTTL, "lease-ttl", 300*time.Millisecond, "lease lifetime used for the abandoned lease scenario")
	simulateCmd.Flags().DurationVar(&simDebounce, "debounce", 50*time.Millisecond, "autosave debounce of the simulated editors")
	rootCmd.AddCommand(simulateCmd)
}

type scenario struct {
	name string
	run  func(ctx context.Context, s *inproc.Stack, docId uuid.UUID) error
}

func runSimulate(cmd *cobra.Command, args []string) error {
	scenarios := []scenario{
		{"typing then blur commits and frees the section", typingThenBlur},
		{"a second editor is denied and sees the holder", conflictingFocus},
		{"a remote version leaves the held section alone", remoteVersionNextToHeld},
		{"an abandoned lease expires", abandonedLease},
	}

	failed := 0
	for i, sc := range scenarios {
		color.Cyan("[%d/%d] %s", i+1, len(scenarios), sc.name)
		if err := runScenario(cmd.Context(), sc); err != nil {
			failed++
			color.Red("  FAIL: %v", err)
			continue
		}
		color.Green("  ok")
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d scenarios failed", failed, len(scenarios))
	}
	return nil
}

func runScenario(parent context.Context, sc scenario) error {
	ctx, cancel := context.WithTimeout(parent, 10*time.Second)
	defer cancel()

	s := inproc.NewStack(simLeaseTTL, simLeaseTTL/5, logger.NewNopLogger())
	defer s.Close()

	created, err := s.Collab.CreateDocument(ctx, entity.NewSession(uuid.New()), &dto.CreateDocumentRequest{
		ProjectId: uuid.New(),
		Name:      "Simulated proposal",
		Sections: []dto.SectionPayload{
			{Id: "intro", Title: "Introduction"},
			{Id: "overview", Title: "Overview"},
		},
	})
	if err != nil {
		return err
	}
	return sc.run(ctx, s, created.Id)
}

func openEditor(ctx context.Context, s *inproc.Stack, docId uuid.UUID, name string) (*collabclient.Editor, uuid.UUID, error) {
	userId := uuid.New()
	e, err := collabclient.NewEditor(ctx, s.Backend(userId), docId, userId, collabclient.Options{
		Debounce: simDebounce,
		Logger:   collabclient.NopLogger(),
	})
	if err != nil {
		return nil, uuid.Nil, err
	}
	fmt.Printf("  %s joined as %s\n", name, userId)
	return e, userId, nil
}

func focusOn(ctx context.Context, e *collabclient.Editor, sectionId string) (collabclient.FocusResult, error) {
	select {
	case res := <-e.Focus(sectionId):
		return res, nil
	case <-ctx.Done():
		return collabclient.FocusResult{}, ctx.Err()
	}
}

func blurOff(ctx context.Context, e *collabclient.Editor, sectionId string) error {
	select {
	case err := <-e.Blur(sectionId):
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// waitUntil polls the editor view until cond holds.
func waitUntil(ctx context.Context, e *collabclient.Editor, cond func(collabclient.View) bool) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if cond(e.View()) {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func sectionOf(v collabclient.View, id string) collabclient.SectionView {
	for _, s := range v.Sections {
		if s.Id == id {
			return s
		}
	}
	return collabclient.SectionView{}
}

func typingThenBlur(ctx context.Context, s *inproc.Stack, docId uuid.UUID) error {
	a, _, err := openEditor(ctx, s, docId, "alice")
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	res, err := focusOn(ctx, a, "intro")
	if err != nil {
		return err
	}
	if res.Err != nil {
		return res.Err
	}
	for _, text := range []string{"H", "He", "Hel", "Hello"} {
		if err := a.Edit("intro", text); err != nil {
			return err
		}
	}
	if err := blurOff(ctx, a, "intro"); err != nil {
		return err
	}

	v := a.View()
	fmt.Printf("  committed %q as version %d\n", sectionOf(v, "intro").Content, v.VersionNumber)
	if v.VersionNumber != 2 {
		return fmt.Errorf("expected one autosave version, current is %d", v.VersionNumber)
	}
	locks, err := s.Collab.GetActiveLocks(ctx, entity.NewSession(uuid.New()), docId)
	if err != nil {
		return err
	}
	if len(locks) != 0 {
		return fmt.Errorf("expected the section to be free, %d leases remain", len(locks))
	}
	return nil
}

func conflictingFocus(ctx context.Context, s *inproc.Stack, docId uuid.UUID) error {
	a, aliceId, err := openEditor(ctx, s, docId, "alice")
	if err != nil {
		return err
	}
	defer a.Close(ctx)
	b, _, err := openEditor(ctx, s, docId, "bob")
	if err != nil {
		return err
	}
	defer b.Close(ctx)

	if res, err := focusOn(ctx, a, "intro"); err != nil || res.Err != nil {
		return errors.Join(err, res.Err)
	}
	res, err := focusOn(ctx, b, "intro")
	if err != nil {
		return err
	}
	if !errors.Is(res.Err, collaberr.ErrLockDenied) {
		return fmt.Errorf("expected bob to be denied, got %v", res.Err)
	}
	if res.Holder == nil || res.Holder.UserId != aliceId {
		return fmt.Errorf("expected alice as holder, got %+v", res.Holder)
	}
	fmt.Printf("  bob sees intro as read-only, held by %s\n", res.Holder.UserId)
	return nil
}

func remoteVersionNextToHeld(ctx context.Context, s *inproc.Stack, docId uuid.UUID) error {
	a, _, err := openEditor(ctx, s, docId, "alice")
	if err != nil {
		return err
	}
	defer a.Close(ctx)
	b, _, err := openEditor(ctx, s, docId, "bob")
	if err != nil {
		return err
	}
	defer b.Close(ctx)

	if res, err := focusOn(ctx, a, "intro"); err != nil || res.Err != nil {
		return errors.Join(err, res.Err)
	}
	if err := a.Edit("intro", "alice draft"); err != nil {
		return err
	}
	if res, err := focusOn(ctx, b, "overview"); err != nil || res.Err != nil {
		return errors.Join(err, res.Err)
	}
	if err := b.Edit("overview", "bob's overview"); err != nil {
		return err
	}
	if err := blurOff(ctx, b, "overview"); err != nil {
		return err
	}

	err = waitUntil(ctx, a, func(v collabclient.View) bool {
		return sectionOf(v, "overview").Content == "bob's overview"
	})
	if err != nil {
		return fmt.Errorf("alice never saw bob's change: %w", err)
	}
	if got := sectionOf(a.View(), "intro").Content; got != "alice draft" {
		return fmt.Errorf("alice's held section was overwritten with %q", got)
	}
	fmt.Println("  alice received overview and kept her draft of intro")
	return nil
}

func abandonedLease(ctx context.Context, s *inproc.Stack, docId uuid.UUID) error {
	crashed := entity.NewSession(uuid.New())
	if _, err := s.Collab.AcquireLock(ctx, crashed, docId, "intro"); err != nil {
		return err
	}
	fmt.Printf("  a client took intro and went away, waiting %s\n", simLeaseTTL)

	b, _, err := openEditor(ctx, s, docId, "bob")
	if err != nil {
		return err
	}
	defer b.Close(ctx)

	deadline := time.Now().Add(3 * simLeaseTTL)
	for {
		res, err := focusOn(ctx, b, "intro")
		if err != nil {
			return err
		}
		if res.Err == nil {
			fmt.Println("  bob acquired intro after the lease expired")
			return nil
		}
		if !errors.Is(res.Err, collaberr.ErrLockDenied) {
			return res.Err
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("lease was never reaped")
		}
		time.Sleep(simLeaseTTL / 5)
	}
}
