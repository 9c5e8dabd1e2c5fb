// Package write implements the storage node's write-transaction state
// machine (C7): acquire a sentence lock, snapshot the target sentence's
// words, accept a run of word-level edits, and commit by re-reading the
// file's current content, splicing the edited sentence back in, and
// atomically rewriting the file.
package write

import (
	"github.com/textfs/textfs/internal/sn/lock"
	"github.com/textfs/textfs/internal/sn/metastore"
	"github.com/textfs/textfs/internal/sn/replicate"
	"github.com/textfs/textfs/internal/textmodel"
	"github.com/textfs/textfs/pkg/dfserrors"
)

// FileStore is the minimal file-content access a transaction needs. It is
// implemented by internal/sn/fsops so this package never touches the
// filesystem directly.
type FileStore interface {
	// Read returns a file's current full content.
	Read(owner, filename string) ([]byte, error)
	// WriteSwapCopy persists data as the pre-edit snapshot of the file, used
	// for undo; it does not affect the file a reader would see.
	WriteSwapCopy(owner, filename string, data []byte) error
	// CommitRewrite atomically replaces a file's content with data.
	CommitRewrite(owner, filename string, data []byte) error
	// RemoveSwapCopy deletes the pre-edit snapshot written by WriteSwapCopy,
	// used to clean up after a transaction that fails validation before it
	// can ever commit.
	RemoveSwapCopy(owner, filename string) error
}

// Transaction is one in-flight edit of a single sentence of a single file.
// It is not safe for concurrent use by multiple goroutines; the SN server
// serializes WRITE_DATA messages for a given connection onto the goroutine
// that owns the transaction.
type Transaction struct {
	table *lock.Table
	store FileStore
	meta  *metastore.Store
	queue *replicate.Queue

	owner, filename string
	key             string
	sentenceIndex   int
	appending       bool

	originalSentences []string
	words             []string

	committed bool
	aborted   bool
}

// Start opens a write transaction against owner's filename at sentenceIndex.
// It acquires the sentence lock (failing rather than blocking if another
// transaction already holds it), snapshots the file's current content to the
// swap area, and splits the target sentence into words. sentenceIndex ==
// len(sentences) requests appending a new sentence, legal only when the file
// is empty or its last sentence is already terminated by a delimiter.
func Start(table *lock.Table, store FileStore, meta *metastore.Store, queue *replicate.Queue, owner, filename string, sentenceIndex int) (*Transaction, error) {
	if sentenceIndex < 0 {
		return nil, dfserrors.New(dfserrors.CodeBadSentenceIndex, "sentence index must be non-negative").
			WithComponent("write").WithOperation("Start")
	}

	key := owner + ":" + filename
	fl := table.Get(key)
	if !fl.TryLockSentence(sentenceIndex) {
		return nil, dfserrors.New(dfserrors.CodeSentenceLocked, "sentence is locked by another writer").
			WithComponent("write").WithOperation("Start")
	}

	content, err := store.Read(owner, filename)
	if err != nil {
		fl.UnlockSentence(sentenceIndex)
		return nil, dfserrors.New(dfserrors.CodeIOFailure, "failed to read file for write").
			WithComponent("write").WithOperation("Start").WithCause(err)
	}

	if err := store.WriteSwapCopy(owner, filename, content); err != nil {
		fl.UnlockSentence(sentenceIndex)
		return nil, dfserrors.New(dfserrors.CodeIOFailure, "failed to snapshot file to swap area").
			WithComponent("write").WithOperation("Start").WithCause(err)
	}

	sentences := textmodel.SplitSentences(content)
	t := &Transaction{
		table: table, store: store, meta: meta, queue: queue,
		owner: owner, filename: filename, key: key,
		sentenceIndex:     sentenceIndex,
		originalSentences: sentences,
	}

	switch {
	case sentenceIndex < len(sentences):
		t.words = textmodel.SplitWords(sentences[sentenceIndex])
	case sentenceIndex == len(sentences):
		if len(sentences) > 0 && !textmodel.EndsWithDelimiter(sentences[len(sentences)-1]) {
			fl.UnlockSentence(sentenceIndex)
			_ = store.RemoveSwapCopy(owner, filename)
			return nil, dfserrors.New(dfserrors.CodeBadSentenceIndex, "cannot append a new sentence before the previous one is terminated").
				WithComponent("write").WithOperation("Start")
		}
		t.appending = true
		t.words = nil
	default:
		fl.UnlockSentence(sentenceIndex)
		_ = store.RemoveSwapCopy(owner, filename)
		return nil, dfserrors.New(dfserrors.CodeBadSentenceIndex, "sentence index is out of range").
			WithComponent("write").WithOperation("Start")
	}

	return t, nil
}

// ApplyWordEdit inserts insertion at wordIndex within the transaction's
// sentence. An out-of-range wordIndex is reported as an error but does not
// abort the transaction: the caller may submit further edits in the same
// WRITE_DATA loop.
func (t *Transaction) ApplyWordEdit(wordIndex int, insertion []string) error {
	if wordIndex < 0 || wordIndex > len(t.words) {
		return dfserrors.New(dfserrors.CodeBadWordIndex, "word index is out of range").
			WithComponent("write").WithOperation("ApplyWordEdit")
	}
	t.words = textmodel.InsertWords(t.words, wordIndex, insertion)
	return nil
}

// Commit re-reads the file's current content, splices the transaction's
// edited sentence back in, atomically rewrites the file, recomputes its
// metadata, and enqueues a replication job. It releases the sentence lock
// whether or not the rewrite succeeds.
func (t *Transaction) Commit() error {
	if t.committed || t.aborted {
		return dfserrors.New(dfserrors.CodeWriteInProgress, "transaction already finished").
			WithComponent("write").WithOperation("Commit")
	}

	fl := t.table.Get(t.key)
	defer fl.UnlockSentence(t.sentenceIndex)

	latest, err := t.store.Read(t.owner, t.filename)
	if err != nil {
		return dfserrors.New(dfserrors.CodeIOFailure, "failed to re-read file at commit").
			WithComponent("write").WithOperation("Commit").WithCause(err)
	}
	latestSentences := textmodel.SplitSentences(latest)
	editedSentence := textmodel.JoinWords(t.words)

	switch {
	case t.appending:
		latestSentences = append(latestSentences, editedSentence)
	case t.sentenceIndex < len(latestSentences):
		latestSentences[t.sentenceIndex] = editedSentence
	default:
		return dfserrors.New(dfserrors.CodeWriteInProgress, "file structure changed before commit").
			WithComponent("write").WithOperation("Commit")
	}

	final := textmodel.JoinSentences(latestSentences)
	if err := t.store.CommitRewrite(t.owner, t.filename, []byte(final)); err != nil {
		return dfserrors.New(dfserrors.CodeIOFailure, "failed to commit rewritten file").
			WithComponent("write").WithOperation("Commit").WithCause(err)
	}

	t.recomputeMetadata(final)
	t.enqueueReplication([]byte(final))
	t.committed = true
	return nil
}

// Abandon releases the sentence lock and discards the transaction's pending
// edits without touching the file, used when the client disconnects before
// sending WRITE_ETIRW.
func (t *Transaction) Abandon() {
	if t.committed || t.aborted {
		return
	}
	t.aborted = true
	t.table.Get(t.key).UnlockSentence(t.sentenceIndex)
}

func (t *Transaction) recomputeMetadata(content string) {
	sentences := textmodel.SplitSentences(content)
	var words int
	for _, s := range sentences {
		words += textmodel.WordCount(s)
	}
	t.meta.Touch(t.filename, func(md *metastore.FileMetadata) {
		md.Owner = t.owner
		md.Size = int64(len(content))
		md.WordCount = int64(words)
		md.CharCount = int64(textmodel.CharCount(content))
	})
}

func (t *Transaction) enqueueReplication(data []byte) {
	if t.queue == nil {
		return
	}
	t.queue.TryEnqueue(replicate.Job{
		Op:       replicate.OpUpdate,
		Owner:    t.owner,
		Filename: t.filename,
		Data:     data,
	})
}
