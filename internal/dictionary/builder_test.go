package dictionary

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
)

func newTestBuilder(t *testing.T, st *memStore, gen Generator, opts BuilderOptions) *Builder {
	t.Helper()
	opts.Logger = quietLogger
	ex := NewExtractor(gen, ExtractorOptions{Logger: quietLogger})
	b, err := NewBuilder(st, ex, st, opts)
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	return b
}

// componentResponse renders a model response with one component whose single
// evidence item quotes the text.
func componentResponse(name string, aliases []string, evidence ...string) string {
	quoted := make([]string, 0, len(aliases))
	for _, a := range aliases {
		quoted = append(quoted, fmt.Sprintf("%q", a))
	}
	evs := make([]string, 0, len(evidence))
	for _, e := range evidence {
		evs = append(evs, fmt.Sprintf(`{"evidence_text_vi":%q}`, e))
	}
	return fmt.Sprintf(`{"components":[{"display_name_vi":%q,"aliases_vi":[%s],"evidence":[%s]}]}`,
		name, strings.Join(quoted, ","), strings.Join(evs, ","))
}

func TestRebuildNoChunksHasNoSideEffects(t *testing.T) {
	st := newMemStore()
	gen := &scriptedGenerator{respond: responseByContent(nil)}
	b := newTestBuilder(t, st, gen, BuilderOptions{})

	res, err := b.Rebuild(context.Background(), "missing-doc")
	if !errors.Is(err, ErrNoChunks) {
		t.Fatalf("err = %v, want ErrNoChunks", err)
	}
	var rerr *RebuildError
	if !errors.As(err, &rerr) || rerr.Stage != StageLoadChunks || rerr.DocID != "missing-doc" {
		t.Fatalf("unexpected error shape: %#v", err)
	}
	if res.Status != StatusError || res.Message == "" || res.Components != 0 || res.References != 0 {
		t.Fatalf("result = %+v", res)
	}
	if len(st.deleteCalls) != 0 || st.upsertCalls != 0 || gen.callCount() != 0 {
		t.Fatalf("side effects: deletes=%v upserts=%d calls=%d", st.deleteCalls, st.upsertCalls, gen.callCount())
	}
}

func TestRebuildEmptyDocID(t *testing.T) {
	st := newMemStore()
	b := newTestBuilder(t, st, &scriptedGenerator{respond: responseByContent(nil)}, BuilderOptions{})
	res, err := b.Rebuild(context.Background(), "  ")
	if err == nil || res.Status != StatusError {
		t.Fatalf("expected validation error, got %+v %v", res, err)
	}
}

func TestRebuildMergesComponentsAcrossChunks(t *testing.T) {
	st := newMemStore()
	st.setChunks("doc-1", "chunk one", "chunk two", "chunk three")
	gen := &scriptedGenerator{respond: responseByContent(map[string]string{
		"chunk one": componentResponse("Nút Bắn", []string{"Fire Button"}, "Press Fire to shoot."),
		"chunk two": componentResponse("Nút Bắn", []string{"Shoot Button"}, "Fire has a cooldown."),
	})}
	b := newTestBuilder(t, st, gen, BuilderOptions{Workers: 3})

	res, err := b.Rebuild(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if res.Status != StatusSuccess || res.Chunks != 3 || res.Components != 1 || res.References != 2 || res.Aliases != 2 {
		t.Fatalf("result = %+v", res)
	}
	if res.RunID == "" {
		t.Fatalf("missing run id")
	}
	comp := st.components["nut_ban"]
	if comp.DisplayName != "Nút Bắn" {
		t.Fatalf("component = %+v", comp)
	}
	if want := []string{"Fire Button", "Shoot Button"}; !reflect.DeepEqual(comp.Aliases, want) {
		t.Fatalf("aliases = %v, want %v", comp.Aliases, want)
	}
	if gen.callCount() != 3 {
		t.Fatalf("expected one call per chunk, got %d", gen.callCount())
	}
	if !reflect.DeepEqual(st.deleteCalls, []string{"doc-1"}) {
		t.Fatalf("deletes = %v", st.deleteCalls)
	}
}

func TestRebuildFirstSeenDisplayNameFollowsChunkOrder(t *testing.T) {
	st := newMemStore()
	st.setChunks("doc-1", "alpha", "beta")
	gen := &scriptedGenerator{respond: responseByContent(map[string]string{
		"alpha": componentResponse("Skill Button", nil, "a"),
		"beta":  componentResponse("skill   button", nil, "b"),
	})}
	b := newTestBuilder(t, st, gen, BuilderOptions{Workers: 2})
	if _, err := b.Rebuild(context.Background(), "doc-1"); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if got := st.components["skill_button"].DisplayName; got != "Skill Button" {
		t.Fatalf("display name = %q", got)
	}
}

func TestRebuildIsIdempotentOnReferences(t *testing.T) {
	st := newMemStore()
	st.setChunks("doc-1", "c1", "c2")
	gen := &scriptedGenerator{respond: responseByContent(map[string]string{
		"c1": componentResponse("Thanh Máu", []string{"HP Bar"}, "HP bar is red.", "HP bar shrinks."),
		"c2": componentResponse("Bản Đồ Nhỏ", nil, "Minimap shows allies."),
	})}
	b := newTestBuilder(t, st, gen, BuilderOptions{})

	if _, err := b.Rebuild(context.Background(), "doc-1"); err != nil {
		t.Fatalf("first Rebuild: %v", err)
	}
	first := st.referencesFor("doc-1")
	res, err := b.Rebuild(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("second Rebuild: %v", err)
	}
	second := st.referencesFor("doc-1")
	if !reflect.DeepEqual(first, second) || len(second) != 3 {
		t.Fatalf("references changed across rebuilds:\n%v\n%v", first, second)
	}
	if res.Aliases != 0 {
		t.Fatalf("second rebuild inserted %d duplicate aliases", res.Aliases)
	}
}

func TestRebuildReflectsOnlyCurrentChunks(t *testing.T) {
	st := newMemStore()
	gen := &scriptedGenerator{respond: func(prompt string) (string, error) {
		for i := 1; i <= 5; i++ {
			marker := fmt.Sprintf("v%d-", i)
			if idx := strings.Index(prompt, marker); idx >= 0 {
				content := prompt[idx : idx+len(marker)+1]
				return componentResponse("Component "+content, nil, "evidence "+content), nil
			}
		}
		return `{"components":[]}`, nil
	}}
	b := newTestBuilder(t, st, gen, BuilderOptions{Workers: 2})

	st.setChunks("doc-1", "v1-a", "v2-a", "v3-a")
	if _, err := b.Rebuild(context.Background(), "doc-1"); err != nil {
		t.Fatalf("Rebuild v1: %v", err)
	}
	if got := len(st.referencesFor("doc-1")); got != 3 {
		t.Fatalf("expected 3 references, got %d", got)
	}

	st.setChunks("doc-1", "v1-b", "v2-b", "v3-b", "v4-b", "v5-b")
	if _, err := b.Rebuild(context.Background(), "doc-1"); err != nil {
		t.Fatalf("Rebuild v2: %v", err)
	}
	refs := st.referencesFor("doc-1")
	if len(refs) != 5 {
		t.Fatalf("expected 5 references, got %d: %v", len(refs), refs)
	}
	for _, r := range refs {
		if strings.HasSuffix(r, "-a") {
			t.Fatalf("stale reference survived: %s", r)
		}
	}
}

func TestRebuildDoesNotTouchOtherDocuments(t *testing.T) {
	st := newMemStore()
	st.setChunks("doc-1", "one")
	st.setChunks("doc-2", "two")
	gen := &scriptedGenerator{respond: responseByContent(map[string]string{
		"one": componentResponse("Shared", nil, "from doc one"),
		"two": componentResponse("Shared", nil, "from doc two"),
	})}
	b := newTestBuilder(t, st, gen, BuilderOptions{})
	for _, doc := range []string{"doc-1", "doc-2", "doc-1"} {
		if _, err := b.Rebuild(context.Background(), doc); err != nil {
			t.Fatalf("Rebuild %s: %v", doc, err)
		}
	}
	if len(st.referencesFor("doc-1")) != 1 || len(st.referencesFor("doc-2")) != 1 {
		t.Fatalf("refs doc-1=%v doc-2=%v", st.referencesFor("doc-1"), st.referencesFor("doc-2"))
	}
}

func TestRebuildEvidenceCountInvariant(t *testing.T) {
	st := newMemStore()
	st.setChunks("doc-1", "c1", "c2", "c3")
	gen := &scriptedGenerator{respond: responseByContent(map[string]string{
		"c1": `{"components":[{"display_name_vi":"A","evidence":[{"evidence_text_vi":"x"},{"evidence_text_vi":"  "},{"evidence_text_vi":"y"}]},{"display_name_vi":"B","evidence":[{"evidence_text_vi":"z"}]}]}`,
		"c2": `{"components":[{"display_name_vi":"A","evidence":[{"evidence_text_vi":"x"}]}]}`,
		"c3": `{"components":[{"display_name_vi":"C","evidence":[]}]}`,
	})}
	b := newTestBuilder(t, st, gen, BuilderOptions{})
	res, err := b.Rebuild(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	// 3 non-empty in c1, 1 in c2, 0 in c3.
	if res.References != 4 || len(st.referencesFor("doc-1")) != 4 {
		t.Fatalf("references = %d stored=%d", res.References, len(st.referencesFor("doc-1")))
	}
	if res.Components != 3 {
		t.Fatalf("components = %d", res.Components)
	}
}

func TestRebuildSkipsFailingChunks(t *testing.T) {
	st := newMemStore()
	st.setChunks("doc-1", "good one", "explodes", "garbage", "good two")
	gen := &scriptedGenerator{respond: func(prompt string) (string, error) {
		switch {
		case strings.Contains(prompt, "explodes"):
			return "", errors.New("upstream 500")
		case strings.Contains(prompt, "garbage"):
			return "I'm sorry, I can't produce JSON today.", nil
		case strings.Contains(prompt, "good one"):
			return componentResponse("A", nil, "a"), nil
		default:
			return componentResponse("B", nil, "b"), nil
		}
	}}
	b := newTestBuilder(t, st, gen, BuilderOptions{Workers: 4})
	res, err := b.Rebuild(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if res.Status != StatusSuccess || res.FailedChunks != 2 || res.Components != 2 || res.References != 2 {
		t.Fatalf("result = %+v", res)
	}
}

func TestRebuildAllChunksFailingStillSucceeds(t *testing.T) {
	st := newMemStore()
	st.setChunks("doc-1", "a", "b")
	gen := &scriptedGenerator{respond: func(string) (string, error) { return "", errors.New("down") }}
	b := newTestBuilder(t, st, gen, BuilderOptions{})
	res, err := b.Rebuild(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if res.Status != StatusSuccess || res.Components != 0 || res.References != 0 || res.FailedChunks != 2 {
		t.Fatalf("result = %+v", res)
	}
}

func TestRebuildBatchesReferences(t *testing.T) {
	st := newMemStore()
	st.setChunks("doc-1", "big")
	evidence := make([]string, 0, 250)
	for i := 0; i < 250; i++ {
		evidence = append(evidence, fmt.Sprintf("fact %d", i))
	}
	gen := &scriptedGenerator{respond: responseByContent(map[string]string{
		"big": componentResponse("Big", nil, evidence...),
	})}
	b := newTestBuilder(t, st, gen, BuilderOptions{ReferenceBatchSize: 500})
	res, err := b.Rebuild(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if res.References != 250 {
		t.Fatalf("references = %d", res.References)
	}
	if want := []int{100, 100, 50}; !reflect.DeepEqual(st.referenceCalls, want) {
		t.Fatalf("batches = %v, want %v", st.referenceCalls, want)
	}
}

func TestRebuildStoreFailures(t *testing.T) {
	cases := []struct {
		name      string
		configure func(*memStore)
		wantStage string
	}{
		{name: "load", configure: func(m *memStore) { m.failLoad = errStoreDown }, wantStage: StageLoadChunks},
		{name: "purge", configure: func(m *memStore) { m.failDelete = errStoreDown }, wantStage: StagePurgeReferences},
		{name: "upsert", configure: func(m *memStore) { m.failUpsert = errStoreDown }, wantStage: StagePersist},
		{name: "references", configure: func(m *memStore) { m.failReference = errStoreDown }, wantStage: StagePersist},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := newMemStore()
			st.setChunks("doc-1", "c1")
			tc.configure(st)
			gen := &scriptedGenerator{respond: responseByContent(map[string]string{"c1": componentResponse("A", []string{"x"}, "e")})}
			b := newTestBuilder(t, st, gen, BuilderOptions{})

			res, err := b.Rebuild(context.Background(), "doc-1")
			if !errors.Is(err, errStoreDown) {
				t.Fatalf("err = %v", err)
			}
			var rerr *RebuildError
			if !errors.As(err, &rerr) || rerr.Stage != tc.wantStage {
				t.Fatalf("stage = %v, want %s", err, tc.wantStage)
			}
			if res.Status != StatusError || !strings.Contains(res.Message, "doc-1") {
				t.Fatalf("result = %+v", res)
			}
		})
	}
}

func TestRebuildCancelledBeforePersisting(t *testing.T) {
	st := newMemStore()
	st.setChunks("doc-1", "c1", "c2", "c3")
	ctx, cancel := context.WithCancel(context.Background())
	gen := &scriptedGenerator{respond: func(prompt string) (string, error) {
		cancel()
		return componentResponse("A", nil, "e"), nil
	}}
	b := newTestBuilder(t, st, gen, BuilderOptions{Workers: 1})

	res, err := b.Rebuild(ctx, "doc-1")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	var rerr *RebuildError
	if !errors.As(err, &rerr) || rerr.Stage != StageCancelled {
		t.Fatalf("err = %#v", err)
	}
	if res.Status != StatusError {
		t.Fatalf("result = %+v", res)
	}
	if gen.callCount() != 1 {
		t.Fatalf("chunks started after cancellation: %d calls", gen.callCount())
	}
	if st.upsertCalls != 0 {
		t.Fatalf("persisted after cancellation")
	}
}

func TestRebuildSerializesSameDocument(t *testing.T) {
	st := newMemStore()
	st.setChunks("doc-1", "c1", "c2")
	gen := &scriptedGenerator{respond: responseByContent(map[string]string{
		"c1": componentResponse("A", nil, "a"),
		"c2": componentResponse("B", nil, "b"),
	})}
	locker := newCountingLocker()
	b := newTestBuilder(t, st, gen, BuilderOptions{Workers: 2, Locker: locker})

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := b.Rebuild(context.Background(), "doc-1"); err != nil {
				t.Errorf("Rebuild: %v", err)
			}
		}()
	}
	wg.Wait()
	if locker.maxHeld != 1 {
		t.Fatalf("same document rebuilt concurrently: max holders %d", locker.maxHeld)
	}
	if got := len(st.referencesFor("doc-1")); got != 2 {
		t.Fatalf("references after concurrent rebuilds = %d", got)
	}
}

func TestRebuildLockFailure(t *testing.T) {
	st := newMemStore()
	st.setChunks("doc-1", "c1")
	locker := newCountingLocker()
	locker.err = errors.New("redis down")
	b := newTestBuilder(t, st, &scriptedGenerator{respond: responseByContent(nil)}, BuilderOptions{Locker: locker})
	_, err := b.Rebuild(context.Background(), "doc-1")
	var rerr *RebuildError
	if !errors.As(err, &rerr) || rerr.Stage != StageLock {
		t.Fatalf("err = %v", err)
	}
	if len(st.deleteCalls) != 0 {
		t.Fatalf("purged without holding the lock")
	}
}

func TestRebuildUsesConfiguredKeyFunc(t *testing.T) {
	st := newMemStore()
	st.setChunks("doc-1", "c1")
	gen := &scriptedGenerator{respond: responseByContent(map[string]string{"c1": componentResponse("Nút Bắn", nil, "e")})}
	b := newTestBuilder(t, st, gen, BuilderOptions{KeyFunc: DeriveASCIIKey})
	if _, err := b.Rebuild(context.Background(), "doc-1"); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if _, ok := st.components["nt_bn"]; !ok {
		t.Fatalf("components = %v", st.components)
	}
}

func TestNewBuilderValidates(t *testing.T) {
	st := newMemStore()
	ex := NewExtractor(&scriptedGenerator{}, ExtractorOptions{Logger: quietLogger})
	if _, err := NewBuilder(nil, ex, st, BuilderOptions{}); err == nil {
		t.Fatalf("expected error for nil chunk source")
	}
	if _, err := NewBuilder(st, nil, st, BuilderOptions{}); err == nil {
		t.Fatalf("expected error for nil extractor")
	}
	if _, err := NewBuilder(st, ex, nil, BuilderOptions{}); err == nil {
		t.Fatalf("expected error for nil store")
	}
}

func TestRebuildStopsWhenLeaseIsLost(t *testing.T) {
	st := newMemStore()
	st.setChunks("doc-1", "c1", "c2", "c3")
	locker := &leaseLocker{}
	gen := &scriptedGenerator{respond: func(prompt string) (string, error) {
		locker.lose()
		return componentResponse("A", nil, "a"), nil
	}}
	b := newTestBuilder(t, st, gen, BuilderOptions{Workers: 1, Locker: locker})

	res, err := b.Rebuild(context.Background(), "doc-1")
	var rerr *RebuildError
	if !errors.As(err, &rerr) || rerr.Stage != StageCancelled {
		t.Fatalf("err = %v", err)
	}
	if !errors.Is(err, errLeaseLost) {
		t.Fatalf("cause not reported: %v", err)
	}
	if res.Status != StatusError || gen.callCount() != 1 {
		t.Fatalf("result = %+v calls = %d", res, gen.callCount())
	}
	if st.upsertCalls != 0 {
		t.Fatalf("persisted without holding the lease")
	}
	if !locker.released {
		t.Fatal("lease not released")
	}
}

func TestRebuildWithHealthyLease(t *testing.T) {
	st := newMemStore()
	st.setChunks("doc-1", "c1")
	locker := &leaseLocker{}
	gen := &scriptedGenerator{respond: responseByContent(map[string]string{"c1": componentResponse("A", nil, "a")})}
	b := newTestBuilder(t, st, gen, BuilderOptions{Locker: locker})
	if _, err := b.Rebuild(context.Background(), "doc-1"); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if !locker.released || st.upsertCalls != 1 {
		t.Fatalf("released=%v upserts=%d", locker.released, st.upsertCalls)
	}
}
