package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalenv/climate-risk-service/internal/domain"
)

func TestParseBatch(t *testing.T) {
	t.Run("standard upload", func(t *testing.T) {
		csv := "member_id,Payer,Plan Zip,Age\n1001,Aetna,10001,70\n1002,Cigna,94105,45\n"

		batch, err := ParseBatch(strings.NewReader(csv))
		require.NoError(t, err)

		assert.Equal(t, "Plan Zip", batch.ZipColumn)
		assert.Equal(t, "member_id", batch.MemberColumn)
		require.Len(t, batch.Records, 2)

		assert.Equal(t, "1001", batch.Records[0].MemberID)
		assert.Equal(t, "10001", batch.Records[0].Zip)
		assert.Equal(t, "Aetna", batch.Records[0].Fields["Payer"])
		assert.Equal(t, "10001", batch.Records[0].Fields["Plan_zip"])
		assert.Equal(t, "1001", batch.Records[0].Fields["Member_ID"])

		assert.Contains(t, batch.Headers, "Member_ID")
		assert.Contains(t, batch.Headers, "Plan_zip")
	})

	t.Run("zip column matched case-insensitively", func(t *testing.T) {
		csv := "Member_ID,ZIPCODE\n1,10001\n"
		batch, err := ParseBatch(strings.NewReader(csv))
		require.NoError(t, err)
		assert.Equal(t, "ZIPCODE", batch.ZipColumn)
		assert.Equal(t, "10001", batch.Records[0].Zip)
	})

	t.Run("missing zip column is not fatal", func(t *testing.T) {
		csv := "member_id,Age\n1001,70\n"
		batch, err := ParseBatch(strings.NewReader(csv))
		require.NoError(t, err)
		assert.Empty(t, batch.ZipColumn)
		assert.Empty(t, batch.Records[0].Zip)
		assert.NotContains(t, batch.Headers, "Plan_zip")
	})

	t.Run("numeric member id coerced to string", func(t *testing.T) {
		csv := "member_id,Plan Zip\n1001.0,10001\n"
		batch, err := ParseBatch(strings.NewReader(csv))
		require.NoError(t, err)
		assert.Equal(t, "1001", batch.Records[0].MemberID)
	})

	t.Run("non-numeric member id preserved", func(t *testing.T) {
		csv := "member_id,Plan Zip\nM-77,10001\n"
		batch, err := ParseBatch(strings.NewReader(csv))
		require.NoError(t, err)
		assert.Equal(t, "M-77", batch.Records[0].MemberID)
	})

	t.Run("blank zip cell leaves record zip empty", func(t *testing.T) {
		csv := "member_id,Plan Zip\n1001,\n1002,94105\n"
		batch, err := ParseBatch(strings.NewReader(csv))
		require.NoError(t, err)
		assert.Empty(t, batch.Records[0].Zip)
		assert.Equal(t, "94105", batch.Records[1].Zip)
	})

	t.Run("ragged row is malformed input", func(t *testing.T) {
		csv := "member_id,Plan Zip,Age\n1001,10001\n"
		_, err := ParseBatch(strings.NewReader(csv))
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrMalformedInput)
	})

	t.Run("empty upload is malformed input", func(t *testing.T) {
		_, err := ParseBatch(strings.NewReader(""))
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrMalformedInput)
	})

	t.Run("header-only upload yields zero records", func(t *testing.T) {
		batch, err := ParseBatch(strings.NewReader("member_id,Plan Zip\n"))
		require.NoError(t, err)
		assert.Empty(t, batch.Records)
	})
}

func TestBatchUniqueZips(t *testing.T) {
	csv := "member_id,Plan Zip\n1,10001\n2,94105\n3,10001\n4,\n"
	batch, err := ParseBatch(strings.NewReader(csv))
	require.NoError(t, err)

	assert.Equal(t, []string{"10001", "94105"}, batch.UniqueZips())
}
