package cytogo_test

import (
	"context"
	"testing"

	"github.com/hupe1980/cytogo"
	"github.com/hupe1980/cytogo/trainer/centroid"
	"github.com/hupe1980/cytogo/trainer/linear"
	"github.com/hupe1980/cytogo/trainer/rbf"
)

func TestBuilder_Basic(t *testing.T) {
	emb, labels, _ := immuneReference(t)

	model, err := cytogo.Classifier(emb, labels).
		Linear().
		Train(context.Background())
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	if got := len(model.Categories()); got != 3 {
		t.Errorf("expected 3 categories, got %d", got)
	}
}

func TestBuilder_FullOptions(t *testing.T) {
	emb, labels, _ := immuneReference(t)

	model, err := cytogo.Classifier(emb, labels).
		RBF(rbf.WithMaxAnchors(8)).
		Folds(3).
		Repeats(2).
		Seed(7).
		Parallelism(2).
		Threshold(0.6).
		Train(context.Background())
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	for _, s := range model.Summaries() {
		if s.Method != rbf.ModelMethod {
			t.Errorf("category %s: expected method %q, got %q", s.Category, rbf.ModelMethod, s.Method)
		}
		if s.Folds != 3 {
			t.Errorf("category %s: expected 3 folds, got %d", s.Category, s.Folds)
		}
		if s.Repeats != 2 {
			t.Errorf("category %s: expected 2 repeats, got %d", s.Category, s.Repeats)
		}
	}
}

func TestBuilder_CategoryTrainer(t *testing.T) {
	emb, labels, _ := immuneReference(t)

	model, err := cytogo.Classifier(emb, labels).
		Linear().
		CategoryTrainer("nk_cell", centroid.New()).
		Train(context.Background())
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	s, ok := model.Summary("nk_cell")
	if !ok {
		t.Fatal("nk_cell not trained")
	}
	if s.Method != centroid.ModelMethod {
		t.Errorf("expected nk_cell method %q, got %q", centroid.ModelMethod, s.Method)
	}

	s, ok = model.Summary("b_cell")
	if !ok {
		t.Fatal("b_cell not trained")
	}
	if s.Method != linear.ModelMethod {
		t.Errorf("expected b_cell method %q, got %q", linear.ModelMethod, s.Method)
	}
}

func TestBuilder_Immutable(t *testing.T) {
	emb, labels, _ := immuneReference(t)
	ctx := context.Background()

	base := cytogo.Classifier(emb, labels).Linear()

	derived, err := base.CategoryTrainer("t_cell", centroid.New()).Train(ctx)
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	s, _ := derived.Summary("t_cell")
	if s.Method != centroid.ModelMethod {
		t.Errorf("expected derived t_cell method %q, got %q", centroid.ModelMethod, s.Method)
	}

	// The derived override must not leak back into the base builder.
	plain, err := base.Train(ctx)
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	s, _ = plain.Summary("t_cell")
	if s.Method != linear.ModelMethod {
		t.Errorf("base builder was mutated: t_cell method %q", s.Method)
	}
}

func TestBuilder_Progress(t *testing.T) {
	emb, labels, _ := immuneReference(t)

	var events int

	_, err := cytogo.Classifier(emb, labels).
		Centroid().
		Progress(func(e cytogo.ProgressEvent) {
			events++
		}).
		Train(context.Background())
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	if events != 3 {
		t.Errorf("expected 3 progress events, got %d", events)
	}
}

func TestBuilder_MustTrain_Panics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("expected MustTrain to panic on mismatched labels")
		}
	}()

	emb, labels, _ := immuneReference(t)

	// Label count mismatch should cause panic
	_ = cytogo.Classifier(emb, labels[:10]).MustTrain(context.Background())
}
