package imap

import (
	"fmt"
	"io"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

// headerSection fetches the header block without setting \Seen.
var headerSection = &imap.BodySectionName{
	BodyPartName: imap.BodyPartName{Specifier: imap.HeaderSpecifier},
	Peek:         true,
}

// UnreadableHeadersError lists the messages whose header block could not be read.
// Headers of the other messages in the batch are still returned.
type UnreadableHeadersError struct {
	UIDs []uint32
	Err  error
}

func (e *UnreadableHeadersError) Error() string {
	return fmt.Sprintf("failed to read %d header(s), last error: %v", len(e.UIDs), e.Err)
}

func (e *UnreadableHeadersError) Unwrap() error {
	return e.Err
}

// FetchHeaders fetches the raw header blocks for the given UIDs of the selected folder.
// UIDs the server does not return are absent from the map.
func FetchHeaders(c *client.Client, uids []uint32) (map[uint32][]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("client is nil")
	}

	result := make(map[uint32][]byte, len(uids))
	if len(uids) == 0 {
		return result, nil
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	items := []imap.FetchItem{imap.FetchUid, headerSection.FetchItem()}

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)

	go func() {
		done <- c.UidFetch(seqSet, items, messages)
	}()

	var unreadable *UnreadableHeadersError
	for msg := range messages {
		body := msg.GetBody(headerSection)
		if body == nil {
			continue
		}
		raw, err := io.ReadAll(body)
		if err != nil {
			if unreadable == nil {
				unreadable = &UnreadableHeadersError{}
			}
			unreadable.UIDs = append(unreadable.UIDs, msg.Uid)
			unreadable.Err = err
			continue
		}
		result[msg.Uid] = raw
	}

	if err := <-done; err != nil {
		return result, fmt.Errorf("failed to fetch headers: %w", err)
	}

	if unreadable != nil {
		return result, unreadable
	}
	return result, nil
}
