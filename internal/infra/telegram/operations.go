package telegram

import (
	"context"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"
	"time"

	"github.com/gotd/td/tg"

	"telegram-fleet/internal/domain/dialogueproc/lexicon"
)

// IncomingMessage is what on_message handlers receive for a private message
// from a non-bot user. A photo or document without text is converted to a
// placeholder; other media without text leave Text empty.
type IncomingMessage struct {
	FromUserID int64
	Text       string
	MessageID  int
	Date       time.Time
}

// MessageHandler is the signature on_message(handler) callers register.
type MessageHandler func(ctx context.Context, msg IncomingMessage) error

// registerHandlers wires OnMessage into the client's private update
// dispatcher, filtered down to the subset the worker actually needs:
// incoming private messages from non-bot users.
func (c *Client) registerHandlers(dispatcher *tg.UpdateDispatcher) {
	dispatcher.OnNewMessage(func(ctx context.Context, entities tg.Entities, u *tg.UpdateNewMessage) error {
		msg, ok := u.Message.(*tg.Message)
		if !ok || msg.Out {
			return nil
		}
		peerUser, ok := msg.PeerID.(*tg.PeerUser)
		if !ok {
			return nil
		}
		if user, found := entities.Users[peerUser.UserID]; found && user.Bot {
			return nil
		}

		handler := c.onMessage
		if handler == nil {
			return nil
		}
		return handler(ctx, IncomingMessage{
			FromUserID: peerUser.UserID,
			Text:       textOrPlaceholder(msg),
			MessageID:  msg.ID,
			Date:       time.Unix(int64(msg.Date), 0),
		})
	})
}

// OnMessage registers the single handler invoked for incoming private
// messages from non-bot users.
func (c *Client) OnMessage(handler MessageHandler) {
	c.onMessage = handler
}

// textOrPlaceholder returns msg.Message if non-empty, otherwise a textual
// placeholder for an attached photo or document (by document kind); any
// other media gives an empty string. Placeholders come from the
// lexicon's canonical set: the media-spam gate matches incoming texts
// against those exact strings.
func textOrPlaceholder(msg *tg.Message) string {
	if strings.TrimSpace(msg.Message) != "" {
		return msg.Message
	}
	switch media := msg.Media.(type) {
	case *tg.MessageMediaPhoto:
		return lexicon.PlaceholderPhoto
	case *tg.MessageMediaDocument:
		doc, ok := media.Document.(*tg.Document)
		if !ok {
			return lexicon.PlaceholderFile
		}
		for _, attr := range doc.Attributes {
			switch a := attr.(type) {
			case *tg.DocumentAttributeSticker:
				_ = a
				return lexicon.PlaceholderSticker
			case *tg.DocumentAttributeVideo:
				if a.RoundMessage {
					return lexicon.PlaceholderVideoNote
				}
				return lexicon.PlaceholderVideo
			case *tg.DocumentAttributeAudio:
				if a.Voice {
					return lexicon.PlaceholderVoice
				}
				return lexicon.PlaceholderAudio
			}
		}
		return lexicon.PlaceholderFile
	default:
		return ""
	}
}

// SendMessage sends text to recipient, optionally as a reply, and returns
// the sent message id. Errors are classified via Classify.
func (c *Client) SendMessage(ctx context.Context, recipientUserID int64, text string, replyTo int) (int, error) {
	peer, err := c.peers.resolveUser(ctx, recipientUserID)
	if err != nil {
		return 0, Classify(err)
	}

	c.monitor.waitOnline(ctx)

	req := &tg.MessagesSendMessageRequest{
		Peer:     peer,
		Message:  text,
		RandomID: rand.Int64(),
	}
	if replyTo > 0 {
		req.ReplyTo = &tg.InputReplyToMessage{ReplyToMsgID: replyTo}
	}

	updates, err := c.api.MessagesSendMessage(ctx, req)
	if err != nil {
		if c.monitor.handleError(err) {
			return 0, &ErrNetwork{Raw: err}
		}
		return 0, Classify(err)
	}
	return extractSentMessageID(updates), nil
}

// SendMessagesNatural sends parts[] one at a time, showing typing for
// typing_times[i] before each, and sleeping pauseBetween*U(0.7,1.3) between
// sends.
func (c *Client) SendMessagesNatural(ctx context.Context, recipientUserID int64, parts []string, typingTimes []time.Duration, pauseBetween time.Duration) ([]int, error) {
	ids := make([]int, 0, len(parts))
	for i, part := range parts {
		if i < len(typingTimes) {
			if err := c.TypeAndWait(ctx, recipientUserID, typingTimes[i]); err != nil {
				return ids, err
			}
		}

		id, err := c.SendMessage(ctx, recipientUserID, part, 0)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)

		if i < len(parts)-1 && pauseBetween > 0 {
			jitter := 0.7 + rand.Float64()*0.6
			select {
			case <-ctx.Done():
				return ids, ctx.Err()
			case <-time.After(time.Duration(float64(pauseBetween) * jitter)):
			}
		}
	}
	return ids, nil
}

// MarkRead is best-effort.
func (c *Client) MarkRead(ctx context.Context, recipientUserID int64, maxID int) {
	peer, err := c.peers.resolveUser(ctx, recipientUserID)
	if err != nil {
		return
	}
	_, _ = c.api.MessagesReadHistory(ctx, &tg.MessagesReadHistoryRequest{
		Peer:  peer,
		MaxID: maxID,
	})
}

// typingRefreshInterval is how often typing must be re-sent: server typing
// indicators expire after ~5s.
const typingRefreshInterval = 4500 * time.Millisecond

// TypeAndWait shows the typing indicator for duration, refreshing it every
// typingRefreshInterval.
func (c *Client) TypeAndWait(ctx context.Context, recipientUserID int64, duration time.Duration) error {
	peer, err := c.peers.resolveUser(ctx, recipientUserID)
	if err != nil {
		return Classify(err)
	}

	deadline := time.Now().Add(duration)
	ticker := time.NewTicker(typingRefreshInterval)
	defer ticker.Stop()

	for {
		_, _ = c.api.MessagesSetTyping(ctx, &tg.MessagesSetTypingRequest{
			Peer:   peer,
			Action: &tg.SendMessageTypingAction{},
		})

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		wait := remaining
		if wait > typingRefreshInterval {
			wait = typingRefreshInterval
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
			if time.Now().After(deadline) {
				return nil
			}
		}
	}
}

// inviteLinkPattern parses the four accepted link forms:
// "@name", "t.me/name", "t.me/+hash", "t.me/joinchat/hash".
var inviteLinkPattern = regexp.MustCompile(`^(?:https?://)?(?:t\.me/|telegram\.me/)?(\+|joinchat/)?([A-Za-z0-9_]+)$`)

func parseInviteLink(link string) (username string, inviteHash string, err error) {
	link = strings.TrimPrefix(strings.TrimSpace(link), "@")
	m := inviteLinkPattern.FindStringSubmatch(link)
	if m == nil {
		return "", "", fmt.Errorf("telegram: unrecognized invite link %q", link)
	}
	if m[1] != "" {
		return "", m[2], nil
	}
	return m[2], "", nil
}

// JoinChannel joins a public channel/group by @name or t.me link, or a
// private one by invite hash.
func (c *Client) JoinChannel(ctx context.Context, link string) error {
	username, hash, err := parseInviteLink(link)
	if err != nil {
		return err
	}

	if hash != "" {
		_, err := c.api.MessagesImportChatInvite(ctx, hash)
		return Classify(err)
	}

	p, err := c.peers.resolveUsername(ctx, username)
	if err != nil {
		return Classify(err)
	}
	channel, ok := p.(interface {
		InputChannel() tg.InputChannelClass
	})
	if !ok {
		return fmt.Errorf("telegram: %q does not resolve to a channel", link)
	}
	_, err = c.api.ChannelsJoinChannel(ctx, channel.InputChannel())
	return Classify(err)
}

// LeaveChannel leaves a channel/group previously resolved via JoinChannel's
// same link forms.
func (c *Client) LeaveChannel(ctx context.Context, link string) error {
	username, _, err := parseInviteLink(link)
	if err != nil {
		return err
	}
	p, err := c.peers.resolveUsername(ctx, username)
	if err != nil {
		return Classify(err)
	}
	channel, ok := p.(interface {
		InputChannel() tg.InputChannelClass
	})
	if !ok {
		return fmt.Errorf("telegram: %q does not resolve to a channel", link)
	}
	_, err = c.api.ChannelsLeaveChannel(ctx, channel.InputChannel())
	return Classify(err)
}

// scrapePageSize and scrapePagePause pace participant pagination: pages of
// 100 with a 0.5s inter-page pause.
const (
	scrapePageSize  = 100
	scrapePagePause = 500 * time.Millisecond
)

// Participant is one scraped group/channel member.
type Participant struct {
	UserID   int64
	Username string
	IsBot    bool
}

// ScrapeGroupParticipants pages through a channel/group's member list, up to
// max results, optionally skipping bots and usernameless accounts. Falls
// back to a message-history scrape if the participants endpoint fails
// (private groups without admin rights commonly reject it).
func (c *Client) ScrapeGroupParticipants(ctx context.Context, link string, max int, skipBots, skipNoUsername bool) ([]Participant, error) {
	username, _, err := parseInviteLink(link)
	if err != nil {
		return nil, err
	}
	p, err := c.peers.resolveUsername(ctx, username)
	if err != nil {
		return nil, Classify(err)
	}
	channel, ok := p.(interface {
		InputChannel() tg.InputChannelClass
	})
	if !ok {
		return nil, fmt.Errorf("telegram: %q does not resolve to a channel", link)
	}

	result, err := c.scrapeViaParticipants(ctx, channel.InputChannel(), max, skipBots, skipNoUsername)
	if err == nil {
		return result, nil
	}
	return c.scrapeViaHistory(ctx, p, max, skipBots, skipNoUsername)
}

func (c *Client) scrapeViaParticipants(ctx context.Context, channel tg.InputChannelClass, max int, skipBots, skipNoUsername bool) ([]Participant, error) {
	var out []Participant
	offset := 0
	for len(out) < max {
		resp, err := c.api.ChannelsGetParticipants(ctx, &tg.ChannelsGetParticipantsRequest{
			Channel: channel,
			Filter:  &tg.ChannelParticipantsRecent{},
			Offset:  offset,
			Limit:   scrapePageSize,
		})
		if err != nil {
			return nil, Classify(err)
		}
		full, ok := resp.(*tg.ChannelsChannelParticipants)
		if !ok || len(full.Users) == 0 {
			break
		}

		for _, u := range full.Users {
			user, ok := u.(*tg.User)
			if !ok {
				continue
			}
			if skipBots && user.Bot {
				continue
			}
			if skipNoUsername && user.Username == "" {
				continue
			}
			out = append(out, Participant{UserID: user.ID, Username: user.Username, IsBot: user.Bot})
			if len(out) >= max {
				break
			}
		}

		if len(full.Users) < scrapePageSize {
			break
		}
		offset += scrapePageSize

		select {
		case <-ctx.Done():
			return out, ctx.Err()
		case <-time.After(scrapePagePause):
		}
	}
	return out, nil
}

// scrapeViaHistory falls back to walking recent message history and
// collecting distinct senders, when the participants list is inaccessible.
func (c *Client) scrapeViaHistory(ctx context.Context, p interface{}, max int, skipBots, skipNoUsername bool) ([]Participant, error) {
	inputPeer, ok := p.(interface{ InputPeer() tg.InputPeerClass })
	if !ok {
		return nil, fmt.Errorf("telegram: history fallback requires a resolvable peer")
	}

	seen := make(map[int64]bool)
	var out []Participant
	offsetID := 0

	for len(out) < max {
		resp, err := c.api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
			Peer:     inputPeer.InputPeer(),
			OffsetID: offsetID,
			Limit:    scrapePageSize,
		})
		if err != nil {
			return out, Classify(err)
		}

		msgs, users := historyPayload(resp)
		if len(msgs) == 0 {
			break
		}

		byID := make(map[int64]*tg.User, len(users))
		for _, u := range users {
			if user, ok := u.(*tg.User); ok {
				byID[user.ID] = user
			}
		}

		minID := 0
		for _, m := range msgs {
			msg, ok := m.(*tg.Message)
			if !ok {
				continue
			}
			if minID == 0 || msg.ID < minID {
				minID = msg.ID
			}
			peerUser, ok := msg.FromID.(*tg.PeerUser)
			if !ok || seen[peerUser.UserID] {
				continue
			}
			user, ok := byID[peerUser.UserID]
			if !ok {
				continue
			}
			if skipBots && user.Bot {
				continue
			}
			if skipNoUsername && user.Username == "" {
				continue
			}
			seen[peerUser.UserID] = true
			out = append(out, Participant{UserID: user.ID, Username: user.Username, IsBot: user.Bot})
			if len(out) >= max {
				break
			}
		}

		if minID == 0 || minID == offsetID {
			break
		}
		offsetID = minID

		select {
		case <-ctx.Done():
			return out, ctx.Err()
		case <-time.After(scrapePagePause):
		}
	}
	return out, nil
}

func historyPayload(resp tg.MessagesMessagesClass) ([]tg.MessageClass, []tg.UserClass) {
	switch m := resp.(type) {
	case *tg.MessagesMessages:
		return m.Messages, m.Users
	case *tg.MessagesMessagesSlice:
		return m.Messages, m.Users
	case *tg.MessagesChannelMessages:
		return m.Messages, m.Users
	default:
		return nil, nil
	}
}

// extractSentMessageID pulls the freshly assigned message id out of the
// UpdatesClass returned by messages.sendMessage.
func extractSentMessageID(u tg.UpdatesClass) int {
	switch updates := u.(type) {
	case *tg.UpdateShortSentMessage:
		return updates.ID
	case *tg.Updates:
		for _, upd := range updates.Updates {
			if m, ok := upd.(*tg.UpdateMessageID); ok {
				return m.ID
			}
		}
	}
	return 0
}
