package live

import (
	"fmt"

	"github.com/pagelove/dom-primitives/dom"
)

// applyUpdate mutates the document per one update. The caller serializes
// access to the document.
//
// PUT swaps the resolved node for the update's single content element.
// POST appends the content elements and non-whitespace text in order.
// DELETE detaches the resolved node.
func applyUpdate(doc *dom.Document, update *Update) (*ApplyResult, error) {
	target, err := doc.First(update.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAddressNotFound, err)
	}
	if target == nil {
		return nil, fmt.Errorf("%w: %q", ErrAddressNotFound, update.Address)
	}

	switch update.Method {
	case MethodPut:
		replacement, ok := dom.SoleElement(update.Content)
		if !ok {
			return nil, fmt.Errorf("%w: PUT %q needs exactly one element", ErrInvalidContent, update.Address)
		}
		if err := dom.Replace(target, replacement); err != nil {
			return nil, fmt.Errorf("replace %q: %w", update.Address, err)
		}
		return &ApplyResult{
			Action: ApplyReplaced,
			Node:   replacement,
		}, nil
	case MethodPost:
		added := dom.ContentNodes(update.Content)
		dom.AppendChildren(target, added)
		return &ApplyResult{
			Action: ApplyAppended,
			Node:   target,
			Added:  added,
		}, nil
	case MethodDelete:
		dom.Detach(target)
		return &ApplyResult{
			Action: ApplyDeleted,
			Node:   target,
		}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, update.Method)
}
