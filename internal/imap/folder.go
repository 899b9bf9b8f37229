package imap

import (
	"errors"
	"fmt"
	"slices"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

// Folders with these attributes cannot be selected, so they are never offered for scanning.
var unselectable = []string{imap.NoSelectAttr, "\\NonExistent"}

// ListFolders returns the names of the selectable folders in server order.
func ListFolders(c *client.Client) ([]string, error) {
	if c == nil {
		return nil, errors.New("client is nil")
	}

	infos := make(chan *imap.MailboxInfo, 16)
	listErr := make(chan error, 1)
	go func() { listErr <- c.List("", "*", infos) }()

	names := make([]string, 0, 16)
	for info := range infos {
		if slices.ContainsFunc(info.Attributes, func(a string) bool {
			return slices.Contains(unselectable, a)
		}) {
			continue
		}
		names = append(names, info.Name)
	}

	if err := <-listErr; err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	return names, nil
}
