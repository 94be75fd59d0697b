package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// Fingerprint derives a cache key from the inputs that uniquely determine
// a namespace's output. It canonicalizes inputs (stable key ordering) so
// two independent writers computing the same logical key produce
// byte-identical fingerprints.
func Fingerprint(namespace string, inputs map[string]any) string {
	canon := canonicalize(inputs)
	b, _ := json.Marshal(canon)
	h := sha256.Sum256(append([]byte(namespace+"|"), b...))
	return hex.EncodeToString(h[:])
}

// canonicalize walks a map[string]any and returns a structure whose
// json.Marshal output has deterministic key order, since Go's
// encoding/json already sorts map[string]any keys — this function exists
// so the determinism is explicit and tested rather than incidental.
func canonicalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]any, len(t))
		for _, k := range keys {
			out[k] = canonicalize(t[k])
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = canonicalize(e)
		}
		return out
	default:
		return v
	}
}

// LMResponseKey derives the key for a cached LM completion: the call is
// fully determined by the prompts, temperature and model.
func LMResponseKey(systemPrompt, userPrompt string, temperature float64, modelID string) string {
	return Fingerprint(NamespaceLMResponse, map[string]any{
		"system":      systemPrompt,
		"user":        userPrompt,
		"temperature": temperature,
		"model":       modelID,
	})
}

// AnswerKey derives the key for a cached final answer: the normalized
// question plus a digest of the session history that fed into it. This
// is the global key, shared across sessions whose history happens to
// digest the same.
func AnswerKey(normalizedQuestion, sessionHistoryDigest string) string {
	return Fingerprint(NamespaceAnswer, map[string]any{
		"question": normalizedQuestion,
		"history":  sessionHistoryDigest,
	})
}

// SessionAnswerKey derives the session-scoped variant of AnswerKey,
// additionally keyed on sessionID. A lookup checks this key before
// falling back to the global AnswerKey, so a session's own prior answer
// takes priority without weakening the global key's cross-session
// assist.
func SessionAnswerKey(sessionID, normalizedQuestion, sessionHistoryDigest string) string {
	return Fingerprint(NamespaceAnswer, map[string]any{
		"session":  sessionID,
		"question": normalizedQuestion,
		"history":  sessionHistoryDigest,
	})
}

// SchemaKey derives the key for a cached table DDL snapshot.
func SchemaKey(table string) string {
	return Fingerprint(NamespaceSchema, map[string]any{"table": table})
}

// SuggestionKey derives the key for cached follow-up suggestions.
func SuggestionKey(question, formattedAnswerDigest string) string {
	return Fingerprint(NamespaceSuggestion, map[string]any{
		"question": question,
		"answer":   formattedAnswerDigest,
	})
}

// Digest hashes an arbitrary JSON-serializable value into a short
// content digest, used for session_history_digest and
// formatted_answer_digest.
func Digest(v any) string {
	b, _ := json.Marshal(canonicalize(toMap(v)))
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

// toMap best-effort round-trips v through JSON so canonicalize can sort
// its keys; non-map values pass through unchanged.
func toMap(v any) any {
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	return out
}
