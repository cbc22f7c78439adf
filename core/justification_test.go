package core

import (
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

type staticAuthorities struct {
	ids []AuthorityId
}

func (s staticAuthorities) AuthoritiesAt(BlockId) ([]AuthorityId, error) { return s.ids, nil }

func genKeys(t *testing.T, n int) ([]AuthorityId, [][]byte) {
	t.Helper()
	ids := make([]AuthorityId, n)
	keys := make([][]byte, n)
	for i := 0; i < n; i++ {
		k, err := crypto.GenerateKey()
		require.NoError(t, err)
		copy(ids[i][:], crypto.CompressPubkey(&k.PublicKey))
		keys[i] = crypto.FromECDSA(k)
	}
	return ids, keys
}

func sign(t *testing.T, keyBytes []byte, msg Hash) Signature {
	t.Helper()
	k, err := crypto.ToECDSA(keyBytes)
	require.NoError(t, err)
	sig65, err := crypto.Sign(msg[:], k)
	require.NoError(t, err)
	var sig Signature
	copy(sig[:], sig65[:64])
	return sig
}

func TestCheckJustificationUnanimous(t *testing.T) {
	ids, keys := genKeys(t, 4)
	authorities := staticAuthorities{ids: ids}
	header := Header{ParentHash: Hash{1}, Number: 1}
	msg := justificationMessage(0, header.ParentHash)

	var sigs []AuthoritySig
	for i, id := range ids {
		sigs = append(sigs, AuthoritySig{Authority: id, Sig: sign(t, keys[i], msg)})
	}
	unchecked := UncheckedJustification{Round: 0, ParentHash: header.ParentHash, Signatures: sigs}

	jh, err := CheckJustification(header, unchecked, []byte("raw"), authorities)
	require.NoError(t, err)
	require.Equal(t, header, jh.Header())
}

func TestCheckJustificationExactThreshold(t *testing.T) {
	ids, keys := genKeys(t, 7) // threshold = ceil(14/3)+1 = 6
	authorities := staticAuthorities{ids: ids}
	header := Header{ParentHash: Hash{2}, Number: 1}
	msg := justificationMessage(1, header.ParentHash)

	var sigs []AuthoritySig
	for i := 0; i < 6; i++ {
		sigs = append(sigs, AuthoritySig{Authority: ids[i], Sig: sign(t, keys[i], msg)})
	}
	unchecked := UncheckedJustification{Round: 1, ParentHash: header.ParentHash, Signatures: sigs}

	_, err := CheckJustification(header, unchecked, nil, authorities)
	require.NoError(t, err)
}

func TestCheckJustificationBelowThreshold(t *testing.T) {
	ids, keys := genKeys(t, 7) // threshold = ceil(14/3)+1 = 6
	authorities := staticAuthorities{ids: ids}
	header := Header{ParentHash: Hash{3}, Number: 1}
	msg := justificationMessage(0, header.ParentHash)

	var sigs []AuthoritySig
	for i := 0; i < 5; i++ {
		sigs = append(sigs, AuthoritySig{Authority: ids[i], Sig: sign(t, keys[i], msg)})
	}
	unchecked := UncheckedJustification{Round: 0, ParentHash: header.ParentHash, Signatures: sigs}

	_, err := CheckJustification(header, unchecked, nil, authorities)
	require.Error(t, err)
	var coreErr *Error
	require.ErrorAs(t, err, &coreErr)
	require.Equal(t, BadJustification, coreErr.Kind)
}

func TestCheckJustificationDuplicateSigner(t *testing.T) {
	ids, keys := genKeys(t, 4)
	authorities := staticAuthorities{ids: ids}
	header := Header{ParentHash: Hash{4}, Number: 1}
	msg := justificationMessage(0, header.ParentHash)

	sig := sign(t, keys[0], msg)
	sigs := []AuthoritySig{
		{Authority: ids[0], Sig: sig},
		{Authority: ids[0], Sig: sig},
		{Authority: ids[1], Sig: sign(t, keys[1], msg)},
	}
	unchecked := UncheckedJustification{Round: 0, ParentHash: header.ParentHash, Signatures: sigs}

	_, err := CheckJustification(header, unchecked, nil, authorities)
	require.Error(t, err)
}

func TestCheckJustificationNonMember(t *testing.T) {
	ids, keys := genKeys(t, 3)
	outsider, outsiderKeys := genKeys(t, 1)
	authorities := staticAuthorities{ids: ids}
	header := Header{ParentHash: Hash{5}, Number: 1}
	msg := justificationMessage(0, header.ParentHash)

	sigs := []AuthoritySig{
		{Authority: ids[0], Sig: sign(t, keys[0], msg)},
		{Authority: ids[1], Sig: sign(t, keys[1], msg)},
		{Authority: outsider[0], Sig: sign(t, outsiderKeys[0], msg)},
	}
	unchecked := UncheckedJustification{Round: 0, ParentHash: header.ParentHash, Signatures: sigs}

	_, err := CheckJustification(header, unchecked, nil, authorities)
	require.Error(t, err)
}
