package testutil

// InstallScript is a trimmed installer carrying the anchors used by the
// offline patch: the password mask, the Docker install function with its
// interactive prompt, and the closing brace of that function.
const InstallScript = `#!/bin/bash

CURRENT_DIR=$(cd "$(dirname "$0")" || exit; pwd)
PASSWORD_MASK="**********"

function log() {
    message="[1Panel Log]: $1 "
    echo -e "${message}" 2>&1 | tee -a "${CURRENT_DIR}"/install.log
}

function Install_Docker(){
    if which docker >/dev/null 2>&1; then
        log "docker already installed"
    else
        while true; do
            read -p "$TXT_INSTALL_DOCKER_ONLINE [y/n]: " docker_install
            case "$docker_install" in
                [yY]) break ;;
                *) exit 1 ;;
            esac
        done
        bash <(curl -sSL https://linuxmirrors.cn/docker.sh)
    fi
}

function Install_Compose(){
    docker compose version >/dev/null 2>&1 || log "compose missing"
}

function main(){
    Install_Docker
    Install_Compose
}
main
`

// Pctl is a representative 1pctl file as shipped in a fresh package.
const Pctl = `#!/bin/bash
BASE_DIR=/opt
ORIGINAL_PORT=9999
ORIGINAL_VERSION=v0.0.0
ORIGINAL_ENTRANCE=entrance
ORIGINAL_USERNAME=username
ORIGINAL_PASSWORD=password
LANGUAGE=en

function usage() {
    echo "1Panel control script"
}
`
