package classifier

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultLabels is the vocabulary the bundled action model was trained on.
var DefaultLabels = []string{"hello", "thanks", "iloveyou"}

// Vocabulary is the fixed, closed, ordered set of gesture labels a model can
// output. It is immutable after construction.
type Vocabulary struct {
	labels []string
	index  map[string]int
}

// vocabularyFile is the on-disk YAML shape:
//
//	labels:
//	  - hello
//	  - thanks
type vocabularyFile struct {
	Labels []string `yaml:"labels"`
}

// NewVocabulary builds a vocabulary from an ordered list of unique,
// non-empty labels.
func NewVocabulary(labels []string) (*Vocabulary, error) {
	if len(labels) == 0 {
		return nil, errors.New("vocabulary must not be empty")
	}

	v := &Vocabulary{
		labels: make([]string, len(labels)),
		index:  make(map[string]int, len(labels)),
	}
	for i, l := range labels {
		l = strings.TrimSpace(l)
		if l == "" {
			return nil, fmt.Errorf("vocabulary label %d is empty", i)
		}
		if _, dup := v.index[l]; dup {
			return nil, fmt.Errorf("vocabulary label %q is duplicated", l)
		}
		v.labels[i] = l
		v.index[l] = i
	}
	return v, nil
}

// DefaultVocabulary returns the vocabulary of the bundled model.
func DefaultVocabulary() *Vocabulary {
	v, err := NewVocabulary(DefaultLabels)
	if err != nil {
		panic("classifier: invalid default vocabulary: " + err.Error())
	}
	return v
}

// LoadVocabulary reads a vocabulary from a YAML file. An empty path yields
// the default vocabulary.
func LoadVocabulary(path string) (*Vocabulary, error) {
	if path == "" {
		return DefaultVocabulary(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vocabulary: %w", err)
	}

	var f vocabularyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse vocabulary: %w", err)
	}

	return NewVocabulary(f.Labels)
}

// Len returns the number of labels.
func (v *Vocabulary) Len() int {
	return len(v.labels)
}

// Label returns the label at index i. It panics when i is out of range.
func (v *Vocabulary) Label(i int) string {
	return v.labels[i]
}

// Index returns the index of label, or -1 if it is not in the vocabulary.
func (v *Vocabulary) Index(label string) int {
	if i, ok := v.index[label]; ok {
		return i
	}
	return -1
}

// Contains reports whether label is in the vocabulary.
func (v *Vocabulary) Contains(label string) bool {
	_, ok := v.index[label]
	return ok
}

// Labels returns a copy of the ordered labels.
func (v *Vocabulary) Labels() []string {
	out := make([]string, len(v.labels))
	copy(out, v.labels)
	return out
}
