package utils

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"

	"github.com/pgvector/pgvector-go"
)

// CharSet represents a set of characters as a string.
type CharSet string

func (c CharSet) String() string {
	return string(c)
}

func (c CharSet) Runes() []rune {
	runes := make([]rune, 0, len(c))
	for _, r := range c {
		runes = append(runes, r)
	}
	return runes
}

func (c CharSet) Len() int {
	return len(c)
}

func MergeCharSets(sets ...CharSet) CharSet {
	set := make(map[rune]struct{})
	for _, s := range sets {
		for _, r := range s {
			set[r] = struct{}{}
		}
	}
	sortedRunes := make([]rune, 0, len(set))
	for r := range set {
		sortedRunes = append(sortedRunes, r)
	}
	slices.Sort(sortedRunes)
	return CharSet(string(sortedRunes))
}

const (
	CharSetUpperCase    CharSet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	CharSetLowerCase    CharSet = "abcdefghijklmnopqrstuvwxyz"
	CharSetNumbers      CharSet = "0123456789"
	CharSetHexDigits    CharSet = "0123456789abcdefABCDEF"
	CharSetAlpha        CharSet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	CharSetAlphaNumeric CharSet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

var (
	ErrInvalidLength    = errors.New("invalid length")
	ErrEmptyCharSet     = errors.New("empty character set")
	ErrInvalidDimension = errors.New("invalid dimension for vector generation")
	ErrInvalidRange     = errors.New("invalid range for vector generation")
)

func RandomWord(length int, charSet CharSet) (string, error) {
	if length <= 0 {
		return "",
			fmt.Errorf("%w: word length must be greater than 0, got %d",
				ErrInvalidLength, length)
	}
	if charSet.Len() == 0 {
		return "", ErrEmptyCharSet
	}

	runes := charSet.Runes()
	result := make([]rune, length)
	for i := range result {
		result[i] = runes[rand.IntN(len(runes))]
	}
	return string(result), nil
}

func RandomParagraph(nWords, minWordLen, maxWordLen int, sep string, charSet CharSet) (string, error) {
	if nWords <= 0 {
		return "",
			fmt.Errorf("%w: number of words must be greater than 0, got %d",
				ErrInvalidLength, nWords)
	}

	if charSet.Len() == 0 {
		return "", ErrEmptyCharSet
	}

	if minWordLen < 0 || maxWordLen < 0 {
		return "",
			fmt.Errorf("%w: word length cannot be negative: min %d, max %d",
				ErrInvalidLength, minWordLen, maxWordLen)
	}

	delta := maxWordLen - minWordLen
	if delta < 0 {
		return "",
			fmt.Errorf("%w: minWordLen %d cannot be greater than maxWordLen %d",
				ErrInvalidLength, minWordLen, maxWordLen)
	}

	words := make([]string, nWords)
	for i := range nWords {
		word, err := RandomWord(rand.IntN(delta)+minWordLen, charSet)
		if err != nil {
			return "", err
		}
		words[i] = word
	}
	return strings.Join(words, sep), nil
}

func RandomFloats(dim int, ub, lb float32) ([]float32, error) {
	if dim <= 0 {
		return nil,
			fmt.Errorf("%w: dimension must be greater than 0, got %d",
				ErrInvalidDimension, dim)
	}

	delta := ub - lb
	if delta <= 0 {
		return nil,
			fmt.Errorf("%w: upper bound %f must be greater than lower bound %f",
				ErrInvalidRange, ub, lb)
	}

	vec := make([]float32, dim)
	for i := range vec {
		vec[i] = rand.Float32()*delta + lb
	}
	return vec, nil
}

func RandomPGVector(dim int, ub, lb float32) (pgvector.Vector, error) {
	vec, err := RandomFloats(dim, ub, lb)
	if err != nil {
		return pgvector.Vector{}, err
	}
	return pgvector.NewVector(vec), nil
}
