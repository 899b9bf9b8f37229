package imap

import (
	"fmt"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

// Session is a logged-in IMAP connection. It implements Mailbox.
type Session struct {
	client *client.Client
}

func (s *Session) ListFolders() ([]string, error) {
	if s.client == nil {
		return nil, ErrNotConnected
	}
	return ListFolders(s.client)
}

// Select opens the folder read-only.
func (s *Session) Select(folder string) error {
	if s.client == nil {
		return ErrNotConnected
	}
	if _, err := s.client.Select(folder, true); err != nil {
		return fmt.Errorf("failed to select %s: %w", folder, err)
	}
	return nil
}

// SearchAll returns the UIDs of every message in the selected folder.
func (s *Session) SearchAll() ([]uint32, error) {
	if s.client == nil {
		return nil, ErrNotConnected
	}
	uids, err := s.client.UidSearch(imap.NewSearchCriteria())
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	return uids, nil
}

func (s *Session) FetchHeaders(uids []uint32) (map[uint32][]byte, error) {
	if s.client == nil {
		return nil, ErrNotConnected
	}
	return FetchHeaders(s.client, uids)
}

// Delete flags the message as deleted in a read-write selection of folder and expunges it.
func (s *Session) Delete(folder string, uid uint32) error {
	if s.client == nil {
		return ErrNotConnected
	}

	if _, err := s.client.Select(folder, false); err != nil {
		return fmt.Errorf("failed to select %s: %w", folder, err)
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	flags := []interface{}{imap.DeletedFlag}
	if err := s.client.UidStore(seqSet, item, flags, nil); err != nil {
		return fmt.Errorf("failed to flag message %d as deleted: %w", uid, err)
	}

	if err := s.client.Expunge(nil); err != nil {
		return fmt.Errorf("failed to expunge: %w", err)
	}
	return nil
}

// Logout ends the session. Later calls return ErrNotConnected.
func (s *Session) Logout() error {
	if s.client == nil {
		return ErrNotConnected
	}
	err := s.client.Logout()
	s.client = nil
	if err != nil && err != client.ErrAlreadyLoggedOut {
		return fmt.Errorf("failed to logout: %w", err)
	}
	return nil
}
