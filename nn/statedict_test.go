package nn

import (
	"errors"
	"math/rand"
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/openfluke/srnet/tensor"
)

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func TestStateDictNames(t *testing.T) {
	block := NewResBlock(rand.New(rand.NewSource(13)), 4, 1)
	got := sortedKeys(StateDict(block))
	want := []string{"body.0.bias", "body.0.weight", "body.2.bias", "body.2.weight"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("state dict keys mismatch (-want +got):\n%s", diff)
	}

	rrdb, err := NewRRDB(rand.New(rand.NewSource(14)), 4, 2)
	if err != nil {
		t.Fatal(err)
	}
	keys := StateDict(rrdb)
	if _, ok := keys["rdb3.conv5.weight"]; !ok {
		t.Errorf("missing rdb3.conv5.weight in %v", sortedKeys(keys))
	}
	if len(keys) != 3*5*2 {
		t.Errorf("Expected 30 entries, got %d", len(keys))
	}
}

func TestNumParamsExcludesBuffers(t *testing.T) {
	bn := NewBatchNorm2D(8)
	if n := NumParams(bn); n != 16 {
		t.Errorf("Expected 16 params, got %d", n)
	}
	if len(StateDict(bn)) != 4 {
		t.Errorf("running stats must still be in the state dict")
	}
}

func TestLoadStateDict(t *testing.T) {
	src := NewResBlock(rand.New(rand.NewSource(15)), 3, 1)
	dst := NewResBlock(rand.New(rand.NewSource(16)), 3, 1)

	if err := LoadStateDict(dst, StateTensors(src), true); err != nil {
		t.Fatal(err)
	}
	for name, p := range StateDict(src) {
		if d := tensor.MaxAbsDiff(p.Tensor.Data, StateDict(dst)[name].Tensor.Data); d != 0 {
			t.Errorf("%s not copied (diff %g)", name, d)
		}
	}

	partial := StateTensors(src)
	delete(partial, "body.2.bias")
	partial["extra.weight"] = tensor.New(1)
	partial["bn.num_batches_tracked"] = tensor.New(1)

	err := LoadStateDict(dst, partial, true)
	if err == nil || !strings.Contains(err.Error(), "body.2.bias") || !strings.Contains(err.Error(), "extra.weight") {
		t.Errorf("Expected strict error naming missing and unexpected keys, got %v", err)
	}
	if strings.Contains(err.Error(), "num_batches_tracked") {
		t.Errorf("num_batches_tracked should be ignored, got %v", err)
	}
	if err := LoadStateDict(dst, partial, false); err != nil {
		t.Errorf("non-strict load should succeed, got %v", err)
	}

	bad := StateTensors(src)
	bad["body.0.weight"] = tensor.New(3, 3, 1, 1)
	if err := LoadStateDict(dst, bad, false); !errors.Is(err, tensor.ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch, got %v", err)
	}
}
