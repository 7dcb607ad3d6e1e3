package gogit

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
)

type empty = struct{}

type hashSet map[plumbing.Hash]empty

func newHashSet(hashes ...plumbing.Hash) hashSet {
	set := make(hashSet, len(hashes))
	for _, hash := range hashes {
		set[hash] = empty{}
	}
	return set
}

func (set hashSet) contains(hash plumbing.Hash) bool {
	_, found := set[hash]
	return found
}

type walkNode struct {
	commit      *object.Commit
	parentCount int
	nextParent  int
}

// parentsFirstPath performs a depth first search from head that emits every commit after all of its
// unhidden parents. Parents are visited in recorded order so linear history comes out oldest first.
func parentsFirstPath(executionContext context.Context, head *object.Commit, hidden hashSet) ([]*object.Commit, error) {
	path := make([]*object.Commit, 0)
	if hidden.contains(head.Hash) {
		return path, nil
	}

	seen := newHashSet(head.Hash)
	stack := []*walkNode{{commit: head, parentCount: head.NumParents()}}

	for len(stack) > 0 {
		if contextError := executionContext.Err(); contextError != nil {
			return nil, contextError
		}

		current := stack[len(stack)-1]
		if current.nextParent == current.parentCount {
			path = append(path, current.commit)
			stack = stack[:len(stack)-1]
			continue
		}

		parentIndex := current.nextParent
		current.nextParent++

		parentHash := current.commit.ParentHashes[parentIndex]
		if hidden.contains(parentHash) || seen.contains(parentHash) {
			continue
		}

		parent, parentError := current.commit.Parent(parentIndex)
		if parentError != nil {
			return nil, fmt.Errorf(parentLookupErrorTemplateConstant, parentIndex, current.commit.Hash.String(), parentError)
		}

		seen[parentHash] = empty{}
		stack = append(stack, &walkNode{commit: parent, parentCount: parent.NumParents()})
	}

	return path, nil
}

// collectAncestors adds start and every commit reachable from it to set.
func collectAncestors(executionContext context.Context, start *object.Commit, set hashSet) error {
	iterator := object.NewCommitPreorderIter(start, nil, nil)
	defer iterator.Close()

	iterationError := iterator.ForEach(func(commit *object.Commit) error {
		if contextError := executionContext.Err(); contextError != nil {
			return contextError
		}
		set[commit.Hash] = empty{}
		return nil
	})
	if iterationError != nil && !errors.Is(iterationError, storer.ErrStop) {
		return iterationError
	}
	return nil
}
