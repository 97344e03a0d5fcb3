package helper

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_GenerateUUID(t *testing.T) {
	id, err := GenerateUUID()
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	assert.NoError(t, err)

	other, err := GenerateUUID()
	require.NoError(t, err)
	assert.NotEqual(t, id, other)
}

func Test_MarkdownToText(t *testing.T) {
	md := "# Income\n\nTotal income was **₹500 crore**.\n\n- FY2022-23: 500\n- FY2021-22: 450\n"
	assert.Equal(t, "Income\nTotal income was ₹500 crore.\n- FY2022-23: 500\n- FY2021-22: 450", MarkdownToText(md))
	assert.Equal(t, "plain answer", MarkdownToText("plain answer"))
	assert.Equal(t, "", MarkdownToText(""))
}

func Test_ConvertToHTML(t *testing.T) {
	out, err := ConvertToHTML("Total **500** crore")
	require.NoError(t, err)
	assert.Equal(t, "<p>Total <strong>500</strong> crore</p>", out)
}

func Test_TokenCounter_Estimate(t *testing.T) {
	c := NewTokenCounter("")
	assert.Equal(t, 0, c.Count(""))
	assert.Equal(t, 1, c.Count("abc"))
	assert.Equal(t, 3, c.Count(strings.Repeat("x", 12)))
}

func Test_TokenCounter_UnknownEncoding(t *testing.T) {
	c := NewTokenCounter("no_such_encoding")
	assert.Nil(t, c.enc)
	assert.Equal(t, 2, c.Count("12345678"))
}
