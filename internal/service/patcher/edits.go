package patcher

// Sentinel marks an installer that already carries the offline patch.
const Sentinel = "# 1panel-offline: offline install support"

// Offline file names the patched installer looks for next to itself.
const (
	DockerArchiveName  = "docker.tgz"
	ComposeBinaryName  = "docker-compose"
	DockerServiceName  = "docker.service"
	UpgradeScriptName  = "upgrade.sh"
	InstallScriptName  = "install.sh"
	DatabaseClientName = "sqlite3"
)

const offlineVariables = `OFFLINE_DOCKER_TGZ="${CURRENT_DIR}/docker.tgz"
OFFLINE_COMPOSE_BIN="${CURRENT_DIR}/docker-compose"
OFFLINE_DOCKER_SERVICE="${CURRENT_DIR}/docker.service"
`

const offlineHelpers = `function Install_Compose_Offline(){
    if [[ ! -f "${OFFLINE_COMPOSE_BIN}" ]]; then
        return 0
    fi
    if docker compose version >/dev/null 2>&1 || docker-compose version >/dev/null 2>&1; then
        return 0
    fi
    log "Installing docker-compose from the offline bundle"
    mkdir -p /usr/local/lib/docker/cli-plugins
    install -m 755 "${OFFLINE_COMPOSE_BIN}" /usr/local/lib/docker/cli-plugins/docker-compose
    install -m 755 "${OFFLINE_COMPOSE_BIN}" /usr/local/bin/docker-compose
}

function Install_Docker_Offline(){
    log "Installing docker from the offline bundle"
    tar -xzf "${OFFLINE_DOCKER_TGZ}" -C "${CURRENT_DIR}"
    install -m 755 "${CURRENT_DIR}"/docker/* /usr/bin/
    rm -rf "${CURRENT_DIR}/docker"
    groupadd -f docker
    if command -v systemctl >/dev/null 2>&1 && [[ -f "${OFFLINE_DOCKER_SERVICE}" ]]; then
        install -m 644 "${OFFLINE_DOCKER_SERVICE}" /etc/systemd/system/docker.service
        systemctl daemon-reload
        systemctl enable --now docker
    else
        (dockerd >/var/log/dockerd.log 2>&1 &)
    fi
}

`

const offlineDockerShortcut = `            if [[ -f "${OFFLINE_DOCKER_TGZ}" ]]; then
                Install_Docker_Offline
                Install_Compose_Offline
                return
            fi
`

const offlineComposeTail = `    Install_Compose_Offline
`

// DefaultEdits returns the four offline edits in the order they must apply.
func DefaultEdits() []Edit {
	return []Edit{
		{
			Name:     "offline-variables",
			Anchor:   `PASSWORD_MASK="**********"`,
			Position: PositionAfter,
			Text:     offlineVariables,
		},
		{
			Name:     "offline-helpers",
			Anchor:   "function Install_Docker(){",
			Position: PositionBefore,
			Text:     offlineHelpers,
		},
		{
			Name:     "offline-docker-shortcut",
			Anchor:   `read -p "$TXT_INSTALL_DOCKER_ONLINE`,
			Position: PositionBefore,
			Text:     offlineDockerShortcut,
		},
		{
			Name:     "offline-compose-tail",
			Anchor:   "function Install_Docker(){",
			Position: PositionFunctionTail,
			Text:     offlineComposeTail,
		},
	}
}
