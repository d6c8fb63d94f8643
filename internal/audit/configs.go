package audit

import (
	"os"
	"path/filepath"
)

const pythonVersion = "3.10"

// ruff 配置：精选规则集，避免风格类告警淹没真正的缺陷。
const ruffConfig = `[tool.ruff]
target-version = "py310"
line-length = 120

[tool.ruff.lint]
select = [
  "E",
  "F",
  "W",
  "B",
  "I",
  "UP",
  "PL",
]
ignore = [
  "PLR0913",
  "PLR2004",
]
`

// pylint 配置：关闭 C/R 两类风格告警，聚焦缺陷。
const pylintConfig = `[MASTER]
py-version=` + pythonVersion + `

[MESSAGES CONTROL]
disable=
    C,
    R,
    W1203,
    W1514,

[FORMAT]
max-line-length=120
`

// mypy 配置：忽略外部依赖的类型缺失。
const mypyConfig = `[mypy]
python_version = ` + pythonVersion + `
ignore_missing_imports = True
follow_imports = silent
warn_unused_ignores = True
no_implicit_optional = False
check_untyped_defs = False
`

// writeWorkspace 在临时目录内落盘待审查代码和三个工具的配置文件，
// 返回主文件名。调用方负责清理目录。
func writeWorkspace(dir, code string) (string, error) {
	files := map[string]string{
		"main.py":        code,
		"pyproject.toml": ruffConfig,
		".pylintrc":      pylintConfig,
		"mypy.ini":       mypyConfig,
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			return "", err
		}
	}
	return "main.py", nil
}
