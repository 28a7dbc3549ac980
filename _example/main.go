package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/hupe1980/cytogo"
	"github.com/hupe1980/cytogo/dataset"
	"github.com/hupe1980/cytogo/embedding"
	"github.com/hupe1980/cytogo/testutil"
)

func main() {
	ctx := context.Background()

	seed := int64(4711)
	dim := 6
	perCategory := 200
	querySize := 400

	rng := testutil.NewRNG(seed)

	vectors, labels := rng.LabeledBlobs(0.4,
		testutil.Blob{Label: "b_cell", Center: []float32{4, 0, 0, 0, 0, 0}, Count: perCategory},
		testutil.Blob{Label: "monocyte", Center: []float32{0, 4, 0, 0, 0, 0}, Count: perCategory},
		testutil.Blob{Label: "nk_cell", Center: []float32{0, 0, 4, 0, 0, 0}, Count: perCategory},
		testutil.Blob{Label: "t_cell", Center: []float32{0, 0, 0, 4, 0, 0}, Count: perCategory},
	)

	emb, err := embedding.New(vectors, testutil.IdentityLoadings(dim), make([]float32, dim))
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println("--- Train ---")
	fmt.Println("Dimension:", dim)
	fmt.Println("Cells:", len(labels))

	start := time.Now()

	model, err := cytogo.Train(ctx, emb, labels, cytogo.WithSeed(seed))
	if err != nil {
		log.Fatal(err)
	}

	end := time.Since(start)

	fmt.Printf("Seconds: %.2f\n\n", end.Seconds())

	printSummaries(model)
	fmt.Println()

	// Simulate a query batch with a systematic shift relative to the
	// reference. Alignment moves it back into the reference basis before
	// scoring.
	queryVectors, truth := testutil.NewRNG(seed + 1).LabeledBlobs(0.4,
		testutil.Blob{Label: "b_cell", Center: []float32{4, 0, 0, 0, 0, 0}, Count: querySize / 4},
		testutil.Blob{Label: "monocyte", Center: []float32{0, 4, 0, 0, 0, 0}, Count: querySize / 4},
		testutil.Blob{Label: "nk_cell", Center: []float32{0, 0, 4, 0, 0, 0}, Count: querySize / 4},
		testutil.Blob{Label: "t_cell", Center: []float32{0, 0, 0, 4, 0, 0}, Count: querySize / 4},
	)

	query, err := dataset.New(testutil.Shifted(queryVectors, []float32{1.5, -1.5, 1.5, -1.5, 0, 0}))
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println("--- Predict ---")
	fmt.Println("Query:", query.Len())

	start = time.Now()

	results, err := model.Predict(ctx, query)
	if err != nil {
		log.Fatal(err)
	}

	end = time.Since(start)

	correct := 0
	for i, r := range results {
		if r.Label == truth[i] {
			correct++
		}
	}

	fmt.Printf("Accuracy: %.3f\n", float64(correct)/float64(len(results)))
	fmt.Printf("Seconds: %.4f\n\n", end.Seconds())

	fmt.Println("--- CrossTab ---")

	ct, err := cytogo.CrossTab(truth, results)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("%-10s", "")
	for _, col := range ct.Columns() {
		fmt.Printf("%12s", col)
	}
	fmt.Println()

	for _, row := range ct.Rows() {
		fmt.Printf("%-10s", row)
		for _, col := range ct.Columns() {
			fmt.Printf("%12d", ct.Count(row, col))
		}
		fmt.Println()
	}
}

func printSummaries(model *cytogo.Model) {
	for _, s := range model.Summaries() {
		fmt.Printf("%-10s method=%s sensitivity=%.3f specificity=%.3f auc=%.3f\n",
			s.Category, s.Method, s.Sensitivity, s.Specificity, s.AUC)
	}
}
