package wire

import (
	"fmt"

	"deepx/internal/model"
)

// EncodePullRequest serializes a PullRequest for the PS data-plane
// connection.
func EncodePullRequest(req *model.PullRequest) []byte {
	buf := make([]byte, 0, 128)
	if req.IsTrain {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}

	buf = appendU32(buf, uint32(len(req.TSRSet)))
	for name := range req.TSRSet {
		buf = appendString(buf, name)
	}

	buf = appendU32(buf, uint32(len(req.SRMMap)))
	for name, ids := range req.SRMMap {
		buf = appendString(buf, name)
		buf = appendU32(buf, uint32(len(ids)))
		for id := range ids {
			buf = appendU64(buf, id)
		}
	}

	buf = appendU32(buf, uint32(len(req.IDFreqMap)))
	for id, freq := range req.IDFreqMap {
		buf = appendU64(buf, id)
		buf = appendU64(buf, freq)
	}
	return buf
}

// DecodePullRequest parses a PullRequest produced by EncodePullRequest into
// a freshly allocated PullRequest.
func DecodePullRequest(buf []byte) (*model.PullRequest, error) {
	req := model.NewPullRequest()
	if err := DecodePullRequestInto(req, buf); err != nil {
		return nil, err
	}
	return req, nil
}

// DecodePullRequestInto parses buf into req, clearing req first so callers
// can reuse
// one PullRequest across every request on a connection instead of
// allocating a fresh one per RPC.
func DecodePullRequestInto(req *model.PullRequest, buf []byte) error {
	req.Clear()
	if len(buf) < 1 {
		return fmt.Errorf("wire: empty pull request")
	}
	req.IsTrain = buf[0] == 1
	off := 1

	nTSR, off, err := readU32(buf, off)
	if err != nil {
		return err
	}
	for i := uint32(0); i < nTSR; i++ {
		var name string
		name, off, err = readString(buf, off)
		if err != nil {
			return err
		}
		req.AddTSR(name)
	}

	nSRM, off, err := readU32(buf, off)
	if err != nil {
		return err
	}
	for i := uint32(0); i < nSRM; i++ {
		var name string
		name, off, err = readString(buf, off)
		if err != nil {
			return err
		}
		var nids uint32
		nids, off, err = readU32(buf, off)
		if err != nil {
			return err
		}
		for j := uint32(0); j < nids; j++ {
			var id uint64
			id, off, err = readU64(buf, off)
			if err != nil {
				return err
			}
			req.AddSRMID(name, id)
		}
	}

	nFreq, off, err := readU32(buf, off)
	if err != nil {
		return err
	}
	for i := uint32(0); i < nFreq; i++ {
		var id, freq uint64
		id, off, err = readU64(buf, off)
		if err != nil {
			return err
		}
		freq, off, err = readU64(buf, off)
		if err != nil {
			return err
		}
		req.IDFreqMap[id] = freq
	}
	return nil
}
