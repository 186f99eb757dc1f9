package server

import (
	"context"
	"fmt"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"
	"github.com/sippy/Sippy-Recorder/internal/config"
	"github.com/sippy/Sippy-Recorder/internal/sig"
	log "github.com/sirupsen/logrus"
)

// SIPFrontend is the signaling edge of the server: it owns the sipgo user
// agent, translates inbound transactions into signaling events for the call
// handlers and encodes their outcomes back onto the wire. Transaction and
// dialog mechanics stay inside sipgo.
type SIPFrontend struct {
	cfg    *config.Config
	server *Server
	ua     *sipgo.UserAgent
	srv    *sipgo.Server
}

func NewSIPFrontend(cfg *config.Config, sv *Server) (*SIPFrontend, error) {
	ua, err := sipgo.NewUA(sipgo.WithUserAgent(cfg.SIP.UserAgent))
	if err != nil {
		return nil, err
	}

	srv, err := sipgo.NewServer(ua)
	if err != nil {
		ua.Close()
		return nil, err
	}

	f := &SIPFrontend{cfg: cfg, server: sv, ua: ua, srv: srv}

	srv.OnInvite(f.onInvite)
	srv.OnAck(func(req *sip.Request, tx sip.ServerTransaction) {})
	srv.OnBye(f.onBye)
	srv.OnCancel(f.onBye)
	srv.OnNotify(f.respondOK)
	srv.OnOptions(f.respondOK)
	srv.OnNoRoute(func(req *sip.Request, tx sip.ServerTransaction) {
		f.respond(req, tx, 501, "Not Implemented")
	})

	return f, nil
}

func (f *SIPFrontend) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", f.cfg.SIP.Address, f.cfg.SIP.Port)
	log.Infof("SIP listening on %s/%s", addr, f.cfg.SIP.Transport)
	return f.srv.ListenAndServe(ctx, f.cfg.SIP.Transport, addr)
}

func (f *SIPFrontend) Close() error {
	return f.ua.Close()
}

func (f *SIPFrontend) onInvite(req *sip.Request, tx sip.ServerTransaction) {
	callID := req.CallID().Value()

	leg := &transactionLeg{
		req:      req,
		tx:       tx,
		localTag: uuid.NewString(),
		contact: sip.ContactHeader{
			Address: sip.Uri{User: "srs", Host: f.cfg.SIP.Address, Port: f.cfg.SIP.Port},
		},
	}

	call, err := f.server.CreateCall(callID, leg)
	if err != nil {
		log.WithField("call", callID).Warnf("refusing INVITE: %s", err)
		f.respond(req, tx, 486, sig.StatusPhrase[486])
		return
	}

	f.respond(req, tx, 100, "Trying")

	ev := &sig.TryEvent{
		CallID:      callID,
		Source:      req.Source(),
		Body:        req.Body(),
		ContentType: headerValue(req.ContentType()),
	}
	if from := req.From(); from != nil {
		ev.CallerID = from.Address.User
		ev.CallerName = from.DisplayName
		if tag, ok := from.Params.Get("tag"); ok {
			ev.FromTag = tag
		}
	}
	if to := req.To(); to != nil {
		ev.CalleeID = to.Address.User
	}
	if auth := req.GetHeader("Authorization"); auth != nil {
		ev.AuthToken = auth.Value()
	}

	call.HandleEvent(ev)
}

func (f *SIPFrontend) onBye(req *sip.Request, tx sip.ServerTransaction) {
	callID := req.CallID().Value()
	if call := f.server.Lookup(callID); call != nil {
		call.HandleEvent(&sig.DisconnectEvent{Origin: sig.OriginRemote})
	}
	f.respond(req, tx, 200, "OK")
}

func (f *SIPFrontend) respondOK(req *sip.Request, tx sip.ServerTransaction) {
	f.respond(req, tx, 200, "OK")
}

func (f *SIPFrontend) respond(req *sip.Request, tx sip.ServerTransaction, code int, reason string) {
	res := sip.NewResponseFromRequest(req, code, reason, nil)
	if err := tx.Respond(res); err != nil {
		log.WithField("call", req.CallID().Value()).
			Errorf("failed to send %d response: %s", code, err)
	}
}

func headerValue(h sip.Header) string {
	if h == nil {
		return ""
	}
	return h.Value()
}

// transactionLeg encodes one call's terminal outcome onto its INVITE
// transaction. At most one of Connect/Fail fires per call; the handler's
// state machine guarantees that.
type transactionLeg struct {
	req      *sip.Request
	tx       sip.ServerTransaction
	localTag string
	contact  sip.ContactHeader
}

var _ sig.CallLeg = (*transactionLeg)(nil)

func (l *transactionLeg) Connect(code int, reason string, contentType string, body []byte) {
	res := sip.NewResponseFromRequest(l.req, code, reason, body)
	if to := res.To(); to != nil {
		if to.Params == nil {
			to.Params = sip.HeaderParams{}
		}
		to.Params.Add("tag", l.localTag)
	}
	res.AppendHeader(&l.contact)
	if len(body) > 0 {
		res.AppendHeader(sip.NewHeader("Content-Type", contentType))
	}
	if err := l.tx.Respond(res); err != nil {
		log.WithField("call", l.req.CallID().Value()).
			Errorf("failed to send connect response: %s", err)
	}
}

func (l *transactionLeg) Fail(code int, reason string, cause *sig.Reason) {
	res := sip.NewResponseFromRequest(l.req, code, reason, nil)
	if cause != nil {
		res.AppendHeader(sip.NewHeader("Reason", cause.String()))
	}
	if err := l.tx.Respond(res); err != nil {
		log.WithField("call", l.req.CallID().Value()).
			Errorf("failed to send failure response: %s", err)
	}
}
