package models

import (
	"fmt"
	"strconv"
	"strings"
)

// Level is the granularity of an evaluation.
type Level string

const (
	LevelWord  Level = "word"
	LevelAyah  Level = "ayah"
	LevelSurah Level = "surah"
)

// Levels lists every level in increasing utterance length.
var Levels = []Level{LevelWord, LevelAyah, LevelSurah}

// SurahCount is the number of chapters in the corpus.
const SurahCount = 114

// ParseLevel parses a level name, case-insensitively.
func ParseLevel(s string) (Level, error) {
	switch Level(strings.ToLower(strings.TrimSpace(s))) {
	case LevelWord:
		return LevelWord, nil
	case LevelAyah:
		return LevelAyah, nil
	case LevelSurah:
		return LevelSurah, nil
	}
	return "", InvalidKey("unknown level %q", s)
}

// Valid reports whether l is one of the known levels.
func (l Level) Valid() bool {
	return l == LevelWord || l == LevelAyah || l == LevelSurah
}

func (l Level) String() string { return string(l) }

// ReferenceKey identifies one reference spectrogram. It carries only the
// coordinates its level needs; build it with WordKey, AyahKey, SurahKey or
// KeyFor. The zero value is invalid.
type ReferenceKey struct {
	level Level
	surah int
	ayah  int
	word  int
}

// WordKey builds a word-level key.
func WordKey(surah, ayah, word int) (ReferenceKey, error) {
	k := ReferenceKey{level: LevelWord, surah: surah, ayah: ayah, word: word}
	return k, k.Validate()
}

// AyahKey builds an ayah-level key.
func AyahKey(surah, ayah int) (ReferenceKey, error) {
	k := ReferenceKey{level: LevelAyah, surah: surah, ayah: ayah}
	return k, k.Validate()
}

// SurahKey builds a surah-level key.
func SurahKey(surah int) (ReferenceKey, error) {
	k := ReferenceKey{level: LevelSurah, surah: surah}
	return k, k.Validate()
}

// KeyFor builds a key for level from optional coordinates, failing with
// ErrInvalidKey when a coordinate the level requires is missing.
func KeyFor(level Level, surah int, ayah, word *int) (ReferenceKey, error) {
	switch level {
	case LevelWord:
		if ayah == nil {
			return ReferenceKey{}, InvalidKey("word level requires an ayah number")
		}
		if word == nil {
			return ReferenceKey{}, InvalidKey("word level requires a word number")
		}
		return WordKey(surah, *ayah, *word)
	case LevelAyah:
		if ayah == nil {
			return ReferenceKey{}, InvalidKey("ayah level requires an ayah number")
		}
		return AyahKey(surah, *ayah)
	case LevelSurah:
		return SurahKey(surah)
	}
	return ReferenceKey{}, InvalidKey("unknown level %q", level)
}

// InferKey picks the level from which coordinates are present: word if a word
// number is given (which then also requires an ayah), ayah if only an ayah is
// given, surah otherwise.
func InferKey(surah int, ayah, word *int) (ReferenceKey, error) {
	switch {
	case word != nil:
		if ayah == nil {
			return ReferenceKey{}, InvalidKey("word-level evaluation requires ayah to be specified")
		}
		return KeyFor(LevelWord, surah, ayah, word)
	case ayah != nil:
		return KeyFor(LevelAyah, surah, ayah, nil)
	default:
		return KeyFor(LevelSurah, surah, nil, nil)
	}
}

// Validate checks that the key's coordinates are in range for its level.
func (k ReferenceKey) Validate() error {
	if !k.level.Valid() {
		return InvalidKey("unknown level %q", k.level)
	}
	if k.surah < 1 || k.surah > SurahCount {
		return InvalidKey("surah must be between 1 and %d, got %d", SurahCount, k.surah)
	}
	if k.level == LevelWord || k.level == LevelAyah {
		if k.ayah < 1 {
			return InvalidKey("ayah must be >= 1, got %d", k.ayah)
		}
	}
	if k.level == LevelWord && k.word < 1 {
		return InvalidKey("word must be >= 1, got %d", k.word)
	}
	return nil
}

// Level returns the key's level.
func (k ReferenceKey) Level() Level { return k.level }

// Surah returns the chapter number.
func (k ReferenceKey) Surah() int { return k.surah }

// Ayah returns the verse number, if the level carries one.
func (k ReferenceKey) Ayah() (int, bool) {
	return k.ayah, k.level == LevelWord || k.level == LevelAyah
}

// Word returns the word number, if the level carries one.
func (k ReferenceKey) Word() (int, bool) {
	return k.word, k.level == LevelWord
}

// Path returns the slash-separated storage path of the key, e.g.
// "word/001/002/003". Components are zero padded so listings sort naturally.
func (k ReferenceKey) Path() string {
	switch k.level {
	case LevelWord:
		return fmt.Sprintf("word/%03d/%03d/%03d", k.surah, k.ayah, k.word)
	case LevelAyah:
		return fmt.Sprintf("ayah/%03d/%03d", k.surah, k.ayah)
	default:
		return fmt.Sprintf("surah/%03d", k.surah)
	}
}

// ParseKeyPath is the inverse of Path.
func ParseKeyPath(path string) (ReferenceKey, error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	level, err := ParseLevel(parts[0])
	if err != nil {
		return ReferenceKey{}, err
	}
	want := map[Level]int{LevelWord: 4, LevelAyah: 3, LevelSurah: 2}[level]
	if len(parts) != want {
		return ReferenceKey{}, InvalidKey("path %q has %d components, %s keys need %d", path, len(parts), level, want)
	}
	nums := make([]int, len(parts)-1)
	for i, p := range parts[1:] {
		n, err := strconv.Atoi(p)
		if err != nil {
			return ReferenceKey{}, InvalidKey("path %q: %q is not a number", path, p)
		}
		nums[i] = n
	}
	switch level {
	case LevelWord:
		return WordKey(nums[0], nums[1], nums[2])
	case LevelAyah:
		return AyahKey(nums[0], nums[1])
	default:
		return SurahKey(nums[0])
	}
}

func (k ReferenceKey) String() string {
	switch k.level {
	case LevelWord:
		return fmt.Sprintf("word %d:%d:%d", k.surah, k.ayah, k.word)
	case LevelAyah:
		return fmt.Sprintf("ayah %d:%d", k.surah, k.ayah)
	default:
		return fmt.Sprintf("surah %d", k.surah)
	}
}
