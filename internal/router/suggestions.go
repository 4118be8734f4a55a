package router

import (
	"fmt"
	"hash/fnv"
)

// adjectives and nouns back the "base-{adjective}-{noun}" name suggestion,
// the third of three alternatives offered on a name_taken collision.
var (
	adjectives = []string{"swift", "quiet", "brave", "calm", "eager", "keen", "lucky", "nimble"}
	nouns      = []string{"falcon", "otter", "comet", "ember", "maple", "quartz", "willow", "zephyr"}
)

// nameSuggestions returns three alternative names for base: "{base}-2",
// "{base}-3", and "{base}-{adjective}-{noun}" — the adjective/noun pair is
// chosen deterministically from base so repeated collisions on the same
// name always offer the same third suggestion.
func nameSuggestions(base string) []string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(base))
	sum := h.Sum32()
	adj := adjectives[sum%uint32(len(adjectives))]
	noun := nouns[(sum/uint32(len(adjectives)))%uint32(len(nouns))]
	return []string{
		base + "-2",
		base + "-3",
		fmt.Sprintf("%s-%s-%s", base, adj, noun),
	}
}
