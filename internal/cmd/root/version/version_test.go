package version

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/prospectr/prospectctl/internal/build"
	"github.com/prospectr/prospectctl/internal/cmd/cmdtest"
	"github.com/prospectr/prospectctl/internal/cmd/common"
)

var testBuild = &build.Info{Version: "1.4.0", Commit: "9c1e2f7", Date: "2026-09-30"}

func TestVersionText(t *testing.T) {
	require := require.New(t)
	helper, out, _ := cmdtest.NewHelper(common.TEXT, &cmdtest.MockConfigHook{})
	helper.BuildInfo = testBuild

	require.NoError(run(helper))
	require.Equal("1.4.0\n", out.String())
}

func TestVersionShowCommit(t *testing.T) {
	require := require.New(t)
	cfg := &cmdtest.MockConfigHook{Values: map[string]any{ShowCommitConfigPath: true}}
	helper, out, _ := cmdtest.NewHelper(common.TEXT, cfg)
	helper.BuildInfo = testBuild

	require.NoError(run(helper))
	require.Equal("1.4.0 (9c1e2f7)\n", out.String())
}

func TestVersionJSON(t *testing.T) {
	require := require.New(t)
	cfg := &cmdtest.MockConfigHook{Values: map[string]any{ShowCommitConfigPath: true}}
	helper, out, _ := cmdtest.NewHelper(common.JSON, cfg)
	helper.BuildInfo = testBuild

	require.NoError(run(helper))
	var got versionInfo
	require.NoError(json.Unmarshal(out.Bytes(), &got))
	require.Equal(versionInfo{Version: "1.4.0", Commit: "9c1e2f7", Date: "2026-09-30"}, got)
}
