// Package aac classifies transcripts into AAC command categories. Everything
// here is pure and deterministic so the pipeline stays stateless and the
// classifier can be tested in isolation.
package aac

import (
	"sort"
	"strings"
)

// Category is the AAC command category of a transcript.
type Category string

const (
	CategoryNavigation    Category = "navigation"
	CategorySelection     Category = "selection"
	CategoryCommunication Category = "communication"
	CategoryMedia         Category = "media"
	CategoryFreeform      Category = "freeform"
)

// Vocabulary order matters: the first category containing any token wins.
// The lists are disjoint by construction.
var categories = []struct {
	category Category
	words    map[string]bool
}{
	{CategoryNavigation, wordSet("back", "next", "previous", "home", "menu", "exit", "up", "down", "left", "right")},
	{CategorySelection, wordSet("select", "choose", "pick", "open", "close", "cancel", "confirm", "delete", "yes", "no", "center", "middle", "this")},
	{CategoryCommunication, wordSet("hello", "goodbye", "thank", "thanks", "please", "sorry", "wait", "more", "done", "help")},
	{CategoryMedia, wordSet("play", "pause", "stop", "repeat", "louder", "quieter")},
}

// boardPositions are the multi-word game phrases accepted in command mode.
var boardPositions = []string{
	"center", "middle left", "middle right",
	"top left", "top center", "top right",
	"bottom left", "bottom center", "bottom right",
}

// Classify maps free text to a command category. Matching is
// case-insensitive and token-based; the first category containing any
// token wins, so a mixed transcript resolves by category order, not by
// token position. Text with no command word is freeform.
func Classify(text string) Category {
	tokens := strings.Fields(strings.ToLower(strings.TrimSpace(text)))
	for _, entry := range categories {
		for _, token := range tokens {
			if entry.words[token] {
				return entry.category
			}
		}
	}
	return CategoryFreeform
}

// IsCommand reports whether the category maps to an actionable command.
func (c Category) IsCommand() bool {
	return c != CategoryFreeform && c != ""
}

// SuggestedActions returns follow-up actions a client may offer for a
// recognized command.
func SuggestedActions(c Category) []string {
	switch c {
	case CategoryNavigation:
		return []string{"confirm_navigation", "show_menu", "go_back"}
	case CategorySelection:
		return []string{"confirm_selection", "cancel", "show_options"}
	case CategoryCommunication:
		return []string{"send_message", "repeat", "edit"}
	case CategoryMedia:
		return []string{"adjust_volume", "skip", "stop"}
	}
	return nil
}

// CommandGrammar lists every phrase the constrained command-mode vocabulary
// accepts, for engines that support grammar restriction.
func CommandGrammar() []string {
	var grammar []string
	seen := make(map[string]bool)
	for _, entry := range categories {
		for word := range entry.words {
			if !seen[word] {
				seen[word] = true
				grammar = append(grammar, word)
			}
		}
	}
	for _, phrase := range boardPositions {
		if !seen[phrase] {
			seen[phrase] = true
			grammar = append(grammar, phrase)
		}
	}
	sort.Strings(grammar)
	return grammar
}

func wordSet(words ...string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}
