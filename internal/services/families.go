package services

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/MrSnakeDoc/devhost/internal/domain"
)

func init() {
	register(php{base{domain.ServicePHP, "php", 8000, ManagedBinary, HealthHTTP, "/"}})
	register(mariadb{base{domain.ServiceMariaDB, "mariadbd", 3306, ManagedBinary, HealthMySQL, ""}})
	register(postgres{base{domain.ServicePostgreSQL, "postgres", 5432, ManagedBinary, HealthPostgres, ""}})
	register(redisLike{base{domain.ServiceRedis, "redis-server", 6379, ManagedBinary, HealthRedis, ""}})
	register(redisLike{base{domain.ServiceValkey, "valkey-server", 6379, ManagedBinary, HealthRedis, ""}})
	register(meilisearch{base{domain.ServiceMeilisearch, "meilisearch", 7700, ManagedBinary, HealthHTTP, "/health"}})
	register(typesense{base{domain.ServiceTypesense, "typesense-server", 8108, ManagedBinary, HealthHTTP, "/health"}})
	register(mailpit{base{domain.ServiceMailpit, "mailpit", 8025, ManagedBinary, HealthHTTP, "/"}})
	register(frpc{base{domain.ServiceFrpc, "frpc", 7400, ManagedTunnel, HealthNone, ""}})
	register(nodered{base{domain.ServiceNodeRED, "node-red", 1880, ManagedPM2, HealthHTTP, "/"}})
}

func port(sc StartContext) string { return strconv.Itoa(sc.Instance.Port) }

// tool locates a companion executable shipped next to the main binary,
// falling back to PATH lookup by bare name.
func tool(sc StartContext, name string) string {
	candidates := []string{
		filepath.Join(sc.BinaryDir, name),
		filepath.Join(sc.BinaryDir, "bin", name),
	}
	if real, err := filepath.EvalSymlinks(sc.BinaryPath); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(real), name))
	}
	for _, c := range candidates {
		if fi, err := os.Stat(c); err == nil && !fi.IsDir() {
			return c
		}
	}
	return name
}

type php struct{ base }

func (php) Args(sc StartContext) []string {
	root := sc.Instance.ConfigValue("document_root")
	if root == "" {
		root = sc.DataDir
	}
	return []string{"-S", "127.0.0.1:" + port(sc), "-t", root}
}

type mariadb struct{ base }

func (mariadb) Args(sc StartContext) []string {
	return []string{
		"--no-defaults",
		"--datadir=" + sc.DataDir,
		"--port=" + port(sc),
		"--bind-address=127.0.0.1",
		"--socket=" + filepath.Join(sc.DataDir, "mysqld.sock"),
	}
}

func (mariadb) InitCommand(sc StartContext) *Command {
	return &Command{
		Path: tool(sc, "mariadb-install-db"),
		Args: []string{
			"--no-defaults",
			"--datadir=" + sc.DataDir,
			"--auth-root-authentication-method=normal",
			"--skip-test-db",
		},
	}
}

type postgres struct{ base }

func (postgres) Args(sc StartContext) []string {
	return []string{"-D", sc.DataDir, "-p", port(sc), "-h", "127.0.0.1", "-k", sc.DataDir}
}

func (postgres) InitCommand(sc StartContext) *Command {
	return &Command{
		Path: tool(sc, "initdb"),
		Args: []string{"-D", sc.DataDir, "-U", "postgres", "--auth=trust", "-E", "UTF8"},
	}
}

type redisLike struct{ base }

func (redisLike) Args(sc StartContext) []string {
	args := []string{"--port", port(sc), "--bind", "127.0.0.1", "--dir", sc.DataDir, "--daemonize", "no"}
	if sc.Instance.AdminKey != "" {
		args = append(args, "--requirepass", sc.Instance.AdminKey)
	}
	return args
}

type meilisearch struct{ base }

func (meilisearch) Args(sc StartContext) []string {
	return []string{
		"--http-addr", "127.0.0.1:" + port(sc),
		"--db-path", filepath.Join(sc.DataDir, "data.ms"),
		"--dump-dir", filepath.Join(sc.DataDir, "dumps"),
		"--no-analytics",
	}
}

func (meilisearch) Env(sc StartContext) []string {
	if sc.Instance.AdminKey == "" {
		return nil
	}
	return []string{"MEILI_MASTER_KEY=" + sc.Instance.AdminKey}
}

type typesense struct{ base }

func (typesense) Args(sc StartContext) []string {
	key := sc.Instance.AdminKey
	if key == "" {
		key = "devhost"
	}
	return []string{
		"--data-dir", sc.DataDir,
		"--api-key", key,
		"--api-port", port(sc),
		"--api-address", "127.0.0.1",
		"--enable-cors",
	}
}

type mailpit struct{ base }

func (mailpit) Args(sc StartContext) []string {
	smtp := sc.Instance.ConfigValue("smtp_port")
	if smtp == "" {
		smtp = "1025"
	}
	return []string{
		"--listen", "127.0.0.1:" + port(sc),
		"--smtp", "127.0.0.1:" + smtp,
		"--database", filepath.Join(sc.DataDir, "mailpit.db"),
	}
}

type frpc struct{ base }

func (frpc) Args(sc StartContext) []string {
	return []string{"-c", sc.ConfigFile}
}

type nodered struct{ base }

func (nodered) Args(sc StartContext) []string {
	return []string{"--port", port(sc), "--userDir", sc.DataDir}
}
