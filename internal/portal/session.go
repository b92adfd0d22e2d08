package portal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"gradeportal-backend/internal/components/assert"
	"gradeportal-backend/internal/components/telemetry"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("gradeportal-backend/internal/portal")

const (
	report_session_login         = "session.login"
	report_session_disambiguate  = "session.disambiguate"
	report_session_grades        = "session.load-grades"
	report_session_class_grades  = "session.load-class-grades"
	report_session_transition    = "session.transition"
	report_session_accounts      = "session.list-accounts"
	report_session_courses_count = "session.courses"
)

type State int

const (
	StateUnauthenticated State = iota
	StateAwaitingDisambiguation
	StateAuthenticated
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAwaitingDisambiguation:
		return "awaiting disambiguation"
	case StateAuthenticated:
		return "authenticated"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

const (
	opLogin        = "login"
	opDisambiguate = "disambiguate"
	opGrades       = "load grades"
	opClassGrades  = "load class grades"
)

// ClassGradesRequest selects one cycle of one course.
type ClassGradesRequest struct {
	CourseId      string
	SemesterIndex int
	Cycle         Cycle
}

// Session drives one user's conversation with a portal. Operations must be
// called one at a time, an overlapping call fails with InvalidStateError.
type Session struct {
	id        string
	district  District
	transport Transport
	tel       telemetry.API

	busy atomic.Bool

	mutex     sync.Mutex
	state     State
	failure   error
	pageState PageState
	accounts  []Account
	// summaryLastViewed is true while the grade summary is the last page
	// this session has been served.
	summaryLastViewed bool
}

func NewSession(district District, transport Transport, tel telemetry.API) *Session {
	assert.NotNil(transport)
	assert.NotNil(tel)
	assert.NotEmptyStr(district.Name)

	id := uuid.NewString()
	tel = telemetry.NewScopedAPI(fmt.Sprintf("portal(%s)", district.Name), tel)

	return &Session{
		id:        id,
		district:  district,
		transport: transport,
		tel:       tel,
		state:     StateUnauthenticated,
	}
}

func (s *Session) Id() string {
	return s.id
}

func (s *Session) District() District {
	return s.district
}

func (s *Session) State() State {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.state
}

// Err returns the reason the session failed, nil unless State is StateFailed.
func (s *Session) Err() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.failure
}

func (s *Session) PageState() PageState {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.pageState
}

// Accounts are the choices parsed from the disambiguation page, if any.
func (s *Session) Accounts() []Account {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	out := make([]Account, len(s.accounts))
	copy(out, s.accounts)
	return out
}

// begin claims the session for one operation if the current state allows it.
func (s *Session) begin(op string, allowed ...State) error {
	if !s.busy.CompareAndSwap(false, true) {
		return &InvalidStateError{
			Op:     op,
			State:  s.State(),
			Reason: "another operation is in progress",
		}
	}

	s.mutex.Lock()
	state := s.state
	failure := s.failure
	s.mutex.Unlock()

	for _, a := range allowed {
		if state == a {
			return nil
		}
	}
	s.busy.Store(false)

	err := &InvalidStateError{Op: op, State: state}
	if failure != nil {
		err.Reason = failure.Error()
	}
	return err
}

func (s *Session) end() {
	s.busy.Store(false)
}

func (s *Session) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("session", s.id),
		attribute.String("district", s.district.Name),
		attribute.String("driver", s.district.Driver),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (s *Session) transition(next State) {
	s.mutex.Lock()
	prev := s.state
	s.state = next
	s.mutex.Unlock()
	s.tel.ReportDebug(report_session_transition, s.id, prev.String(), next.String())
}

func (s *Session) fail(reportId string, err error) {
	s.mutex.Lock()
	prev := s.state
	s.state = StateFailed
	s.failure = err
	s.mutex.Unlock()
	s.tel.ReportBroken(reportId, err, s.id, prev.String())
}

// commit stores a freshly extracted page state.
func (s *Session) commit(state PageState) {
	s.mutex.Lock()
	s.pageState = state
	s.mutex.Unlock()
}

// roundTrip sends one request and parses the response. Nothing about the
// session is changed here, a failed round trip leaves it as it was.
func (s *Session) roundTrip(ctx context.Context, op string, req Request) (*goquery.Document, error) {
	res, err := s.transport.Send(ctx, req)
	if err != nil {
		return nil, &TransportError{Op: op, Url: req.Url, Err: err}
	}
	if res.Status < 200 || res.Status > 299 {
		return nil, &TransportError{Op: op, Url: req.Url, Status: res.Status}
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body))
	if err != nil {
		return nil, &TransportError{Op: op, Url: req.Url, Status: res.Status, Err: fmt.Errorf("read html: %w", err)}
	}
	return doc, nil
}

// extract reads the page state of a response, the session fails if it
// cannot since the portal has already rotated its tokens.
func (s *Session) extract(op, reportId string, doc *goquery.Document) (PageState, error) {
	state, err := ExtractPageState(doc)
	if err != nil {
		var malformed *MalformedPageError
		if errors.As(err, &malformed) {
			malformed.Op = op
		}
		s.fail(reportId, err)
		return PageState{}, err
	}
	return state, nil
}

func (s *Session) reportTransport(reportId string, err error) {
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		s.tel.ReportWarning(reportId, err, s.id)
	}
}

// Login authenticates with the portal.
func (s *Session) Login(ctx context.Context, username, password string) (err error) {
	err = s.begin(opLogin, StateUnauthenticated)
	if err != nil {
		return err
	}
	defer s.end()

	ctx, span := s.startSpan(ctx, "Session.Login")
	defer func() { endSpan(span, err) }()
	defer func() { s.reportTransport(report_session_login, err) }()

	loader := s.district.API.Login

	var state PageState
	if loader.Bootstrap {
		doc, err := s.roundTrip(ctx, opLogin, Request{Method: MethodGet, Url: loader.Url})
		if err != nil {
			return err
		}
		state, err = s.extract(opLogin, report_session_login, doc)
		if err != nil {
			return err
		}
	}

	doc, err := s.roundTrip(ctx, opLogin, Request{
		Method: loader.Method,
		Url:    loader.Url,
		Query:  loader.MakeQuery(username, password, state),
	})
	if err != nil {
		return err
	}

	if reason, rejected := s.district.Parser.IsLoginRejected(doc); rejected {
		authErr := &AuthenticationError{District: s.district.Name, Reason: reason}
		s.fail(report_session_login, authErr)
		return authErr
	}

	state, err = s.extract(opLogin, report_session_login, doc)
	if err != nil {
		return err
	}
	s.commit(state)

	disambiguate := s.district.API.Disambiguate
	if !disambiguate.IsRequired(doc) {
		s.transition(StateAuthenticated)
		return nil
	}

	s.transition(StateAwaitingDisambiguation)
	if disambiguate.ListAccounts == nil {
		return nil
	}
	// the account list is informational, a caller that already knows the
	// account id can still disambiguate
	accounts, listErr := disambiguate.ListAccounts(doc)
	if listErr != nil {
		s.tel.ReportWarning(report_session_accounts, listErr, s.id)
		return nil
	}
	s.mutex.Lock()
	s.accounts = accounts
	s.mutex.Unlock()
	return nil
}

// Disambiguate selects the account to load grades for.
func (s *Session) Disambiguate(ctx context.Context, accountId string) (err error) {
	err = s.begin(opDisambiguate, StateAwaitingDisambiguation)
	if err != nil {
		return err
	}
	defer s.end()

	ctx, span := s.startSpan(ctx, "Session.Disambiguate")
	span.SetAttributes(attribute.String("account", accountId))
	defer func() { endSpan(span, err) }()
	defer func() { s.reportTransport(report_session_disambiguate, err) }()

	loader := s.district.API.Disambiguate
	doc, err := s.roundTrip(ctx, opDisambiguate, Request{
		Method: loader.Method,
		Url:    loader.Url,
		Query:  loader.MakeQuery(accountId, s.PageState()),
	})
	if err != nil {
		return err
	}

	state, err := s.extract(opDisambiguate, report_session_disambiguate, doc)
	if err != nil {
		return err
	}
	s.commit(state)
	s.transition(StateAuthenticated)
	return nil
}

// LoadGrades fetches and parses the grade summary. Every call makes a new
// request.
func (s *Session) LoadGrades(ctx context.Context) (courses []Course, err error) {
	err = s.begin(opGrades, StateAuthenticated, StateReady)
	if err != nil {
		return nil, err
	}
	defer s.end()

	ctx, span := s.startSpan(ctx, "Session.LoadGrades")
	defer func() { endSpan(span, err) }()
	defer func() { s.reportTransport(report_session_grades, err) }()

	loader := s.district.API.Grades
	var query Query
	if loader.MakeQuery != nil {
		query = loader.MakeQuery(s.PageState())
	}
	doc, err := s.roundTrip(ctx, opGrades, Request{
		Method: loader.Method,
		Url:    loader.Url,
		Query:  query,
	})
	if err != nil {
		return nil, err
	}

	state, err := s.extract(opGrades, report_session_grades, doc)
	if err != nil {
		return nil, err
	}
	s.commit(state)
	s.mutex.Lock()
	s.summaryLastViewed = true
	s.mutex.Unlock()
	s.transition(StateReady)

	courses, err = s.district.Parser.ParseGrades(ctx, doc, s.district)
	if err != nil {
		s.tel.ReportBroken(report_session_grades, err, s.id)
		return nil, err
	}
	s.tel.ReportCount(report_session_courses_count, int64(len(courses)))
	span.SetAttributes(attribute.Int("courses", len(courses)))
	return courses, nil
}

// LoadClassGrades fetches and parses the detail page of one cycle.
func (s *Session) LoadClassGrades(ctx context.Context, req ClassGradesRequest) (grades ClassGrades, err error) {
	err = s.begin(opClassGrades, StateReady)
	if err != nil {
		return ClassGrades{}, err
	}
	defer s.end()

	ctx, span := s.startSpan(ctx, "Session.LoadClassGrades")
	span.SetAttributes(
		attribute.String("course", req.CourseId),
		attribute.Int("semester", req.SemesterIndex),
		attribute.Int("cycle", req.Cycle.Index),
	)
	defer func() { endSpan(span, err) }()
	defer func() { s.reportTransport(report_session_class_grades, err) }()

	if req.Cycle.UrlHash == "" {
		return ClassGrades{}, &InvalidStateError{
			Op:     opClassGrades,
			State:  StateReady,
			Reason: fmt.Sprintf("course %s cycle %d has no class grades link", req.CourseId, req.Cycle.Index),
		}
	}

	s.mutex.Lock()
	summaryLastViewed := s.summaryLastViewed
	s.mutex.Unlock()
	if s.district.ClassGradesRequiresAverageLoaded && !summaryLastViewed {
		return ClassGrades{}, &InvalidStateError{
			Op:     opClassGrades,
			State:  StateReady,
			Reason: "grades must be loaded again before each class grades request",
		}
	}

	loader := s.district.API.ClassGrades
	doc, err := s.roundTrip(ctx, opClassGrades, Request{
		Method: loader.Method,
		Url:    loader.Url,
		Query:  loader.MakeQuery(req.Cycle.UrlHash, s.PageState()),
	})
	if err != nil {
		return ClassGrades{}, err
	}

	state, err := s.extract(opClassGrades, report_session_class_grades, doc)
	if err != nil {
		return ClassGrades{}, err
	}
	s.commit(state)
	s.mutex.Lock()
	s.summaryLastViewed = false
	s.mutex.Unlock()

	grades, err = s.district.Parser.ParseClassGrades(ctx, doc, ClassGradesContext{
		CourseId:      req.CourseId,
		UrlHash:       req.Cycle.UrlHash,
		SemesterIndex: req.SemesterIndex,
		CycleIndex:    req.Cycle.Index,
	})
	if err != nil {
		s.tel.ReportBroken(report_session_class_grades, err, s.id)
		return ClassGrades{}, err
	}
	if grades.CourseId == "" {
		grades.CourseId = req.CourseId
	}
	return grades, nil
}
