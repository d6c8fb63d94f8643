package service

// InstallMode 表示插件的安装方式。
// 进入安装阶段前解析一次并作为显式参数传递，安装过程中不再读取配置。
type InstallMode string

const (
	// InstallModeAuto 优先走 API 安装，失败后回退到文件安装
	InstallModeAuto InstallMode = "auto"
	// InstallModeAPI 只通过 AstrBot 管理 API 安装
	InstallModeAPI InstallMode = "api"
	// InstallModeFile 只把插件文件写入插件目录，等待 AstrBot 自行加载
	InstallModeFile InstallMode = "file"
)

// ResolveInstallMode 把配置值收敛为合法的安装方式，未知值按 auto 处理。
func ResolveInstallMode(v string) InstallMode {
	switch InstallMode(v) {
	case InstallModeAPI:
		return InstallModeAPI
	case InstallModeFile:
		return InstallModeFile
	default:
		return InstallModeAuto
	}
}
