package scheduler

import (
	"testing"

	"github.com/ecoachlabs/ideamind-sub006/pkg/taskrepo"
)

func TestShardTaskRecoversOriginalList(t *testing.T) {
	items := make([]any, 0, 25)
	for i := 0; i < 25; i++ {
		items = append(items, i)
	}
	spec := taskrepo.TaskSpec{
		Phase:          "QA",
		Input:          map[string]any{"items": items},
		IdempotenceKey: "QA:0123456789abcdef",
	}

	shards, err := ShardTask(spec, 10)
	if err != nil {
		t.Fatalf("ShardTask: %v", err)
	}
	if len(shards) != 3 {
		t.Fatalf("got %d shards, want 3", len(shards))
	}

	var recovered []any
	for i, shard := range shards {
		shardMeta := shard.Input["_shard"].(map[string]any)
		if shardMeta["index"] != i {
			t.Fatalf("shard %d has index %v", i, shardMeta["index"])
		}
		recovered = append(recovered, shard.Input["items"].([]any)...)

		wantKey := spec.IdempotenceKey + "-shard-" + string(rune('0'+i))
		_ = wantKey // exact format checked via idempotence.Shard in its own package test
	}
	if len(recovered) != len(items) {
		t.Fatalf("recovered %d items, want %d", len(recovered), len(items))
	}
}

func TestShardTaskPassthroughWhenUnderSize(t *testing.T) {
	spec := taskrepo.TaskSpec{
		Phase: "QA",
		Input: map[string]any{"items": []any{1, 2, 3}},
	}
	shards, err := ShardTask(spec, 10)
	if err != nil {
		t.Fatalf("ShardTask: %v", err)
	}
	if len(shards) != 1 {
		t.Fatalf("got %d shards, want 1 (passthrough)", len(shards))
	}
}

func TestShardTaskIgnoresUnrecognizedKeys(t *testing.T) {
	spec := taskrepo.TaskSpec{
		Phase: "QA",
		Input: map[string]any{"custom_list": make([]any, 100)},
	}
	shards, err := ShardTask(spec, 10)
	if err != nil {
		t.Fatalf("ShardTask: %v", err)
	}
	if len(shards) != 1 {
		t.Fatalf("unrecognized key must not shard, got %d shards", len(shards))
	}
}
