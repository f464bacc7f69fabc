// Package segment loads a whole heap relation segment (an ordered
// sequence of fixed-size pages) into memory, exposes pure read
// operations over it, implements the inline/new-item/new-page update
// algorithm for a single tuple, and writes the segment back to disk.
package segment

import (
	"errors"
	"fmt"
	"io"
	"os"

	"pgheapedit/pkg/page"
	"pgheapedit/pkg/row"
	"pgheapedit/pkg/schema"
	"pgheapedit/pkg/tuple"
)

// Errors returned by segment operations.
var (
	ErrInvalidPath    = errors.New("segment: invalid or unreadable path")
	ErrNoSuchPage     = errors.New("segment: no such page")
	ErrNoSuchItem     = errors.New("segment: no such item")
	ErrItemIsUnused   = errors.New("segment: item has no tuple body")
	ErrSchemaRequired = errors.New("segment: typed update requires a non-nil schema")
)

// Segment is an ordered sequence of decoded pages read from one file.
type Segment struct {
	Pages []page.Page
}

// Open reads path start-to-end, closes it, and parses it as a
// concatenation of pages: each page's own declared length determines
// where the next one begins.
func Open(path string) (*Segment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	data, err := io.ReadAll(f)
	closeErr := f.Close()
	if err != nil {
		return nil, err
	}
	if closeErr != nil {
		return nil, closeErr
	}

	var pages []page.Page
	offset := 0
	for offset < len(data) {
		length, err := page.PeekLength(data[offset:])
		if err != nil {
			return nil, err
		}
		if length <= 0 || offset+length > len(data) {
			return nil, page.ErrHeaderTooShort
		}
		p, err := page.Decode(data[offset:offset+length], length)
		if err != nil {
			return nil, err
		}
		pages = append(pages, p)
		offset += length
	}

	return &Segment{Pages: pages}, nil
}

// ListPages returns every page in file order.
func (s *Segment) ListPages() []page.Page {
	return s.Pages
}

// ListPage returns page p.
func (s *Segment) ListPage(p int) (page.Page, error) {
	if p < 0 || p >= len(s.Pages) {
		return page.Page{}, ErrNoSuchPage
	}
	return s.Pages[p], nil
}

// ReadItem returns the raw tuple bytes (header + bitmap/padding +
// payload) addressed by page p, item i.
func (s *Segment) ReadItem(p, i int) ([]byte, error) {
	pg, err := s.ListPage(p)
	if err != nil {
		return nil, err
	}
	if i < 0 || i >= len(pg.Items) {
		return nil, ErrNoSuchItem
	}
	return pg.Items[i].Body, nil
}

// DecodeItem parses the tuple header out of the raw bytes at page p,
// item i, and returns it alongside the payload slice that follows the
// header's declared t_hoff.
func (s *Segment) DecodeItem(p, i int) (tuple.Header, []byte, error) {
	body, err := s.ReadItem(p, i)
	if err != nil {
		return tuple.Header{}, nil, err
	}
	if len(body) == 0 {
		return tuple.Header{}, nil, ErrItemIsUnused
	}
	h, err := tuple.Decode(body)
	if err != nil {
		return tuple.Header{}, nil, err
	}
	hoff := int(h.Hoff)
	if hoff > len(body) {
		hoff = len(body)
	}
	return h, body[hoff:], nil
}

// ReadFields decodes page p, item i's payload against sch and returns
// one Field per schema column (or the single raw_data field in Raw
// mode).
func (s *Segment) ReadFields(p, i int, sch *schema.Schema) ([]row.Field, error) {
	h, payload, err := s.DecodeItem(p, i)
	if err != nil {
		return nil, err
	}
	return row.Deserialize(payload, h, sch)
}

// align8 rounds n up to the next multiple of 8.
func align8(n int) int {
	return (n + 7) &^ 7
}

// buildTupleBytes lays out a tuple's on-disk bytes: the header encoded
// and padded out to hoff, followed by the payload. pad, when true,
// additionally zero-pads the whole result to an 8-byte boundary (the
// new-item/new-page branches); inline keeps the exact, unpadded length.
func buildTupleBytes(h tuple.Header, payload []byte, pad bool) []byte {
	body := h.EncodeTo(int(h.Hoff))
	body = append(body, payload...)
	if pad {
		target := align8(len(body))
		for len(body) < target {
			body = append(body, 0)
		}
	}
	return body
}

// UpdateItemTyped decodes the CSV-style values against sch, encodes
// the new tuple payload/header, and applies the update algorithm to
// page p, item i.
func (s *Segment) UpdateItemTyped(p, i int, sch *schema.Schema, values []string) error {
	if sch == nil {
		return ErrSchemaRequired
	}

	oldHeader, _, err := s.DecodeItem(p, i)
	if err != nil {
		return err
	}

	newPayload, newHeader, err := row.Serialize(values, oldHeader, sch)
	if err != nil {
		return err
	}

	return s.applyUpdate(p, i, newPayload, newHeader)
}

// UpdateItemRaw installs newPayload verbatim as the new tuple payload,
// preserving the target's existing header bytes (including t_hoff).
func (s *Segment) UpdateItemRaw(p, i int, newPayload []byte) error {
	oldHeader, _, err := s.DecodeItem(p, i)
	if err != nil {
		return err
	}
	return s.applyUpdate(p, i, newPayload, oldHeader)
}

// applyUpdate implements the Decide -> {Inline | NewItem -> {FitsInPage
// | NewPage}} state machine. On any error the segment is left
// untouched.
func (s *Segment) applyUpdate(p, i int, newPayload []byte, newHeader tuple.Header) error {
	if p < 0 || p >= len(s.Pages) {
		return ErrNoSuchPage
	}
	pg := s.Pages[p]
	if i < 0 || i >= len(pg.Items) {
		return ErrNoSuchItem
	}

	oldBody := pg.Items[i].Body
	if len(oldBody) == 0 {
		return ErrItemIsUnused
	}
	oldHeader, err := tuple.Decode(oldBody)
	if err != nil {
		return err
	}
	oldHoff := int(oldHeader.Hoff)
	if oldHoff > len(oldBody) {
		oldHoff = len(oldBody)
	}
	oldPayload := oldBody[oldHoff:]

	if len(newPayload) <= len(oldPayload) {
		s.inlineUpdate(p, i, newPayload, newHeader)
		return nil
	}

	return s.newItemUpdate(p, i, newPayload, newHeader)
}

// inlineUpdate overwrites the target slot's header and payload in
// place: no page-geometry change, no re-pack.
func (s *Segment) inlineUpdate(p, i int, newPayload []byte, newHeader tuple.Header) {
	body := buildTupleBytes(newHeader, newPayload, false)

	pg := s.Pages[p]
	items := append([]page.Item(nil), pg.Items...)
	lp := items[i].LP
	lp.Len = uint32(len(body))
	items[i] = page.Item{LP: lp, Body: body}
	pg.Items = items
	s.Pages[p] = pg
}

// newItemUpdate implements the MVCC-style supersede: deep-copies the
// target tuple and line pointer, installs the new payload/header on
// the copy, marks the original as dead/stale, and either appends the
// new slot to the current page (if it fits) or to a freshly allocated
// page.
func (s *Segment) newItemUpdate(p, i int, newPayload []byte, newHeader tuple.Header) error {
	pg := s.Pages[p]
	items := append([]page.Item(nil), pg.Items...)

	oldItem := items[i]
	oldHeader, err := tuple.Decode(oldItem.Body)
	if err != nil {
		return err
	}

	// New tuple: mark as the live successor.
	newHeader.Infomask = newHeader.Infomask.Set(tuple.HeapXmaxInvalid | tuple.HeapUpdated)

	// Old tuple: clear the successor flags, mark HOT-updated, and push
	// its transaction-id window back so the host engine treats it as
	// superseded by an earlier producer.
	oldHeader.Infomask = oldHeader.Infomask.Clear(tuple.HeapUpdated | tuple.HeapXmaxInvalid)
	oldHeader.Infomask2 = oldHeader.Infomask2.Set(tuple.HeapHotUpdated)
	oldHeader.Xmax = oldHeader.Xmin
	oldHeader.Xmin = oldHeader.Xmin - 1

	newHeader.Xmin = oldHeader.Xmax
	newHeader.Xmax = 0

	newBody := buildTupleBytes(newHeader, newPayload, true)
	newByteLength := uint32(len(newBody))

	oldBody := buildTupleBytes(oldHeader, oldItem.Body[int(oldHeader.Hoff):], false)
	oldLP := oldItem.LP
	oldLP.Flags = page.LPDead
	items[i] = page.Item{LP: oldLP, Body: oldBody}
	pg.Items = items
	s.Pages[p] = pg

	available := uint32(pg.Header.Upper) - uint32(pg.Header.Lower)
	if newByteLength > available {
		return s.newPageUpdate(pg, newBody, newByteLength)
	}

	pg.Header.Lower += 4
	pg.Header.Upper -= uint16(newByteLength)
	newLP := page.LinePointer{Off: uint32(pg.Header.Upper), Flags: page.LPNormal, Len: newByteLength}
	pg.Items = append(pg.Items, page.Item{LP: newLP, Body: newBody})

	s.Pages[p] = pg
	return nil
}

// newPageUpdate appends a fresh page carrying only the new tuple; the
// original page (already updated in place by the caller) keeps the
// stale-marked old tuple.
func (s *Segment) newPageUpdate(source page.Page, newBody []byte, newByteLength uint32) error {
	newPage := page.Page{
		Header: source.Header,
		Length: source.Length,
	}
	newPage.Header.Flags = 0
	newPage.Header.Lower = page.HeaderSize + 4
	newPage.Header.Upper = uint16(source.Length) - uint16(newByteLength)

	newLP := page.LinePointer{Off: uint32(newPage.Header.Upper), Flags: page.LPNormal, Len: newByteLength}
	newPage.Items = []page.Item{{LP: newLP, Body: newBody}}

	s.Pages = append(s.Pages, newPage)
	return nil
}

// SaveTo encodes every page in file order and writes them concatenated
// to path, fsyncing before close so the caller can rely on the bytes
// being durable once SaveTo returns.
func (s *Segment) SaveTo(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}

	for _, p := range s.Pages {
		encoded, err := p.Encode()
		if err != nil {
			f.Close()
			return err
		}
		if _, err := f.Write(encoded); err != nil {
			f.Close()
			return err
		}
	}

	if err := fsync(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

