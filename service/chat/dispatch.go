package chat

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"IMCore/logger"
	"IMCore/service/notify"
	"IMCore/service/storage"
	"IMCore/tools/errs"
)

// Dispatch is the message send pipeline: validate, persist, fan out,
// acknowledge. Persistence gates fan-out (an unpersisted message is never
// delivered), while a dead recipient never fails the send: the sender is
// acknowledged as soon as the record is durable, and offline delivery is
// the notification collaborator's problem.
type Dispatch struct {
	registry      *Registry
	lifecycle     *Lifecycle
	store         storage.MessageStore
	notifier      notify.Notifier
	persistWindow time.Duration
}

func NewDispatch(registry *Registry, lifecycle *Lifecycle, store storage.MessageStore,
	notifier notify.Notifier, persistWindow time.Duration) *Dispatch {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	if persistWindow <= 0 {
		persistWindow = 5 * time.Second
	}
	return &Dispatch{
		registry:      registry,
		lifecycle:     lifecycle,
		store:         store,
		notifier:      notifier,
		persistWindow: persistWindow,
	}
}

// Send runs one send request end to end. Every outcome is reported to the
// sender as either SEND_MESSAGE_RESPONSE or ERROR; nothing is dropped
// silently.
func (d *Dispatch) Send(sender *Conn, cmd SendMessageCommand) {
	if sender.State() != StateActive || sender.UserID() == 0 {
		d.writeBestEffort(sender, BuildError("not authenticated"))
		return
	}
	if (cmd.RecipientID == 0 && cmd.GroupID == "") || cmd.Content == "" {
		d.writeBestEffort(sender, BuildError("missing fields"))
		return
	}
	msgType := cmd.Type
	if msgType == "" {
		msgType = "text"
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.persistWindow)
	rec, err := d.store.CreateMessage(ctx, storage.NewMessage{
		SenderID:    sender.UserID(),
		RecipientID: cmd.RecipientID,
		GroupID:     cmd.GroupID,
		Content:     cmd.Content,
		Type:        msgType,
	})
	cancel()
	if err != nil {
		logger.Errorf("[dispatch] %v", errs.ErrPersistence.WrapMsg("create message failed",
			"sender", sender.UserID(), "err", err))
		d.writeBestEffort(sender, BuildError("failed to send message"))
		return
	}

	delivered := d.fanOut(rec)
	if !delivered {
		d.notifyOffline(rec)
	}

	// The acknowledgement is unconditional: persistence succeeded, so the
	// sender gets the id whether or not the recipient was reachable.
	if err := sender.WriteFrame(BuildSendMessageResponse(rec)); err != nil {
		logger.Warnf("[dispatch] ack write failed sender=%d conn=%s err=%v", sender.UserID(), sender.ID(), err)
		d.lifecycle.CloseConn(sender, websocket.CloseGoingAway, "write failed")
	}
}

// fanOut delivers the persisted record to the recipient's live connection
// if there is one. A failed write evicts the recipient through the normal
// close path but does not fail the send.
func (d *Dispatch) fanOut(rec *storage.MessageRecord) bool {
	if rec.RecipientID == 0 {
		// Group fan-out needs membership, which lives outside this core;
		// the stored-message event carries groups to the notification side.
		return false
	}
	rc, ok := d.registry.Lookup(rec.RecipientID)
	if !ok || rc.State() != StateActive {
		return false
	}
	if err := rc.WriteFrame(BuildNewMessage(rec)); err != nil {
		logger.Warnf("[dispatch] %v", errs.ErrDelivery.WrapMsg("recipient write failed",
			"user", rec.RecipientID, "conn", rc.ID(), "err", err))
		d.lifecycle.CloseConn(rc, websocket.CloseGoingAway, "write failed")
		return false
	}
	return true
}

// NotifyStatus persists a delivered/read transition and pushes a
// MESSAGE_STATUS frame to the original sender, best-effort.
func (d *Dispatch) NotifyStatus(ctx context.Context, messageID, status string) error {
	rec, err := d.store.UpdateStatus(ctx, messageID, status)
	if err != nil {
		return err
	}
	sc, ok := d.registry.Lookup(rec.SenderID)
	if !ok || sc.State() != StateActive {
		return nil
	}
	if err := sc.WriteFrame(BuildMessageStatus(rec.ID, rec.Status)); err != nil {
		logger.Warnf("[dispatch] status write failed user=%d conn=%s err=%v", rec.SenderID, sc.ID(), err)
		d.lifecycle.CloseConn(sc, websocket.CloseGoingAway, "write failed")
	}
	return nil
}

func (d *Dispatch) notifyOffline(rec *storage.MessageRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.notifier.MessageStored(ctx, rec); err != nil {
		logger.Warnf("[dispatch] offline notify failed message=%s err=%v", rec.ID, err)
	}
}

func (d *Dispatch) writeBestEffort(c *Conn, f OutboundFrame) {
	if err := c.WriteFrame(f); err != nil {
		logger.Debugf("[dispatch] error frame write failed conn=%s err=%v", c.ID(), err)
	}
}
