package document

import (
	"github.com/google/uuid"

	getsafe "github.com/d-j-h/searcher/util/get_safe"
)

// IssueRecord is one tracked issue (task, bug, epic) from the issue tracker.
type IssueRecord struct {
	base
}

func (d IssueRecord) ID() string {
	return getsafe.String(d.metadata, "key")
}

func (d IssueRecord) Source() Source {
	return SourceIssue
}

func (d IssueRecord) Status() string {
	return getsafe.String(d.metadata, "status")
}

func (d IssueRecord) Assignee() string {
	return getsafe.String(d.metadata, "assignee")
}

// WikiPage is a complete knowledge-base document.
type WikiPage struct {
	base
}

func (d WikiPage) ID() string {
	return getsafe.String(d.metadata, "document_id")
}

func (d WikiPage) Source() Source {
	return SourceWiki
}

func (d WikiPage) Title() string {
	return getsafe.String(d.metadata, "title")
}

func (d WikiPage) Owner() string {
	return getsafe.String(d.metadata, "owner")
}

// WikiChunk is a retrieval-sized slice of a knowledge-base document. Chunks
// carry their own id when the exporter assigned one; otherwise each hit gets
// a fresh identity so distinct chunks of one page are never collapsed.
type WikiChunk struct {
	base
	id string
}

func newWikiChunk(b base) WikiChunk {
	id := getsafe.String(b.metadata, "chunk_id")
	if len(id) == 0 {
		id = uuid.New().String()
	}
	return WikiChunk{base: b, id: id}
}

func (d WikiChunk) ID() string {
	return d.id
}

func (d WikiChunk) Source() Source {
	return SourceWikiChunk
}

func (d WikiChunk) DocumentID() string {
	return getsafe.String(d.metadata, "document_id")
}

func (d WikiChunk) Owner() string {
	return getsafe.String(d.metadata, "owner")
}

// CodeReviewRecord is one pull request with its comments and participants.
type CodeReviewRecord struct {
	base
}

func (d CodeReviewRecord) ID() string {
	return getsafe.String(d.metadata, "id")
}

func (d CodeReviewRecord) Source() Source {
	return SourceCodeReview
}

func (d CodeReviewRecord) Repository() string {
	return getsafe.String(d.metadata, "repo")
}

func (d CodeReviewRecord) Author() string {
	return getsafe.String(d.metadata, "author")
}

// EmailMessage is a single email.
type EmailMessage struct {
	base
}

func (d EmailMessage) ID() string {
	return getsafe.String(d.metadata, "message_id")
}

func (d EmailMessage) Source() Source {
	return SourceEmail
}

func (d EmailMessage) From() string {
	return getsafe.String(d.metadata, "from")
}

func (d EmailMessage) Subject() string {
	return getsafe.String(d.metadata, "subject")
}
