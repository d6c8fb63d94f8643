package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findingCodes(findings []Finding) []string {
	var codes []string
	for _, f := range findings {
		codes = append(codes, f.Code)
	}
	return codes
}

func TestRunRulesCleanPlugin(t *testing.T) {
	findings := RunRules(samplePlugin, nil, nil)
	assert.Empty(t, findings)
}

func TestRunRulesSyntaxError(t *testing.T) {
	findings := RunRules("def broken(:\n", nil, nil)
	require.Len(t, findings, 1)
	assert.Equal(t, codeSyntaxError, findings[0].Code)
	assert.Equal(t, SeverityCritical, findings[0].Severity)
}

func TestRunRulesMissingStarSubclass(t *testing.T) {
	src := "from astrbot.api import logger\n\nclass NotAPlugin:\n    pass\n"
	findings := RunRules(src, nil, nil)
	assert.Contains(t, findingCodes(findings), codeNoStarClass)
	for _, f := range findings {
		if f.Code == codeNoStarClass {
			assert.Equal(t, SeverityCritical, f.Severity)
		}
	}
}

func TestRunRulesBannedImports(t *testing.T) {
	src := "import logging\nimport requests\nfrom loguru import logger\n\nclass P(Star):\n    pass\n"
	findings := RunRules(src, nil, nil)
	codes := findingCodes(findings)
	count := 0
	for _, c := range codes {
		if c == codeBannedImport {
			count++
		}
	}
	assert.Equal(t, 3, count)
}

func TestRunRulesMissingLoggerIsWarning(t *testing.T) {
	src := "from astrbot.api.star import Star\n\nclass P(Star):\n    pass\n"
	findings := RunRules(src, nil, nil)
	for _, f := range findings {
		if f.Code == codeMissingLogger {
			assert.Equal(t, SeverityWarning, f.Severity)
			return
		}
	}
	t.Fatal("expected missing logger finding")
}

func TestRunRulesFilterWithoutImport(t *testing.T) {
	src := `from astrbot.api import logger
from astrbot.api.star import Star

class P(Star):
    @filter.command("x")
    async def x(self, event):
        pass
`
	findings := RunRules(src, nil, nil)
	assert.Contains(t, findingCodes(findings), codeFilterImport)
}

func TestRunRulesHookArity(t *testing.T) {
	src := `from astrbot.api import logger
from astrbot.api.event import filter
from astrbot.api.star import Star

class P(Star):
    @filter.on_llm_request()
    async def on_llm_request(self, event):
        pass
`
	findings := RunRules(src, nil, nil)
	found := false
	for _, f := range findings {
		if f.Code == codeHookArity {
			found = true
			assert.Equal(t, SeverityError, f.Severity)
		}
	}
	assert.True(t, found)
}

func TestRunRulesYieldInHook(t *testing.T) {
	src := `from astrbot.api import logger
from astrbot.api.event import filter
from astrbot.api.star import Star

class P(Star):
    @filter.on_decorating_result()
    async def on_decorating_result(self, event):
        yield event.plain_result("no")
`
	findings := RunRules(src, nil, nil)
	found := false
	for _, f := range findings {
		if f.Code == codeYieldInHook {
			found = true
			assert.Equal(t, SeverityCritical, f.Severity)
		}
	}
	assert.True(t, found)
}

func TestRunRulesLLMToolWithPermission(t *testing.T) {
	src := `from astrbot.api import logger
from astrbot.api.event import filter
from astrbot.api.star import Star

class P(Star):
    @filter.llm_tool(name="t")
    @filter.permission_type(PermissionType.ADMIN)
    async def tool(self, event):
        pass
`
	findings := RunRules(src, nil, nil)
	assert.Contains(t, findingCodes(findings), codeToolPermission)
}

func TestRunRulesListenerMissingEvent(t *testing.T) {
	src := `from astrbot.api import logger
from astrbot.api.event import filter
from astrbot.api.star import Star

class P(Star):
    @filter.command("x")
    async def x(self):
        pass

    @filter.on_astrbot_loaded()
    async def on_astrbot_loaded(self):
        pass
`
	findings := RunRules(src, nil, nil)
	count := 0
	for _, f := range findings {
		if f.Code == codeMissingEvent {
			count++
			assert.Equal(t, SeverityWarning, f.Severity)
		}
	}
	// on_astrbot_loaded 不要求 event 参数
	assert.Equal(t, 1, count)
}

func TestRunRulesDangerousCalls(t *testing.T) {
	src := `from astrbot.api import logger
from astrbot.api.star import Star
import os

class P(Star):
    def run(self, event):
        os.system("rm -rf /tmp/x")
        return eval("1+1")
`
	findings := RunRules(src, nil, nil)
	count := 0
	for _, f := range findings {
		if f.Code == codeDangerousCall {
			count++
			assert.Equal(t, SeverityCritical, f.Severity)
		}
	}
	assert.Equal(t, 2, count)
}

func TestRunRulesBannedDependencies(t *testing.T) {
	findings := RunRules(samplePlugin, []string{"aiohttp>=3.9", "Requests==2.31.0"}, []string{"requests", "loguru"})
	found := false
	for _, f := range findings {
		if f.Code == codeBannedDep {
			found = true
			assert.Equal(t, SeverityError, f.Severity)
			assert.Contains(t, f.Message, "requests")
		}
	}
	assert.True(t, found)
}
