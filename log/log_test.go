package log

import (
	"bytes"
	"log"
	"testing"

	"github.com/contentsquare/webfetch/config"
	"github.com/stretchr/testify/assert"
)

func TestLogMask(t *testing.T) {
	err := InitReplacer([]config.LogMask{
		{
			Regex:       `([?&](?:apikey|token)=)[^&\s]+`,
			Replacement: "$1******",
		},
	})
	assert.NoError(t, err)
	defer InitReplacer(nil) // nolint

	var b bytes.Buffer
	testLogger := log.New(&b, "DEBUG: ", stdLogFlags)
	err = testLogger.Output(outputCallDepth,
		mask("fetching http://x/weather?city=vienna&apikey=s3cr3t&format=xml"))
	assert.NoError(t, err)
	res, err := b.ReadString('\n')
	assert.NoError(t, err)
	assert.Contains(t, res, "fetching http://x/weather?city=vienna&apikey=******&format=xml")
}

func TestInitReplacerBadRegex(t *testing.T) {
	err := InitReplacer([]config.LogMask{{Regex: "(unclosed"}})
	assert.Error(t, err)
}

func TestMaskWithoutReplacer(t *testing.T) {
	replacer.Store([]regexReplacer(nil))
	assert.Equal(t, "plain", mask("plain"))
}
