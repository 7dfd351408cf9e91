package models

// Domain identifies which tool family produced a ResourceRef.
type Domain string

const (
	DomainK8s       Domain = "k8s"
	DomainDocker    Domain = "docker"
	DomainTerraform Domain = "terraform"
	DomainCI        Domain = "ci"
)

// ResourceRef is one declared infrastructure object as delivered by a
// collaborator. It is immutable for the lifetime of a validation run; rules
// must never write to Attributes.
type ResourceRef struct {
	Domain    Domain `json:"domain" yaml:"domain"`
	Kind      string `json:"kind" yaml:"kind"`
	Name      string `json:"name" yaml:"name"`
	Namespace string `json:"namespace,omitempty" yaml:"namespace,omitempty"`

	// SourceFile is the project-relative path used for issue attribution.
	SourceFile string `json:"sourceFile" yaml:"sourceFile"`

	// Attributes is the raw nested mapping for the object. For K8s resources
	// it is the full manifest document (apiVersion, kind, metadata, spec...).
	Attributes map[string]any `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// Inventory is the complete point-in-time snapshot consumed by one
// validation run. The engine never re-queries a collaborator mid-run.
type Inventory struct {
	K8s       K8sDomain       `json:"k8s" yaml:"k8s"`
	Docker    DockerDomain    `json:"docker" yaml:"docker"`
	CI        CIDomain        `json:"ci" yaml:"ci"`
	Terraform TerraformDomain `json:"terraform" yaml:"terraform"`
	Cluster   ClusterDomain   `json:"cluster" yaml:"cluster"`
	Project   ProjectDomain   `json:"project" yaml:"project"`
}

// ── Kubernetes ───────────────────────────────────────────────────────────────

// K8sDomain is the normalized Kubernetes-side state of the project.
type K8sDomain struct {
	Resources     []ResourceRef   `json:"resources,omitempty" yaml:"resources,omitempty"`
	ManifestFiles []ManifestFile  `json:"manifestFiles,omitempty" yaml:"manifestFiles,omitempty"`
	HelmCharts    []HelmChart     `json:"helmCharts,omitempty" yaml:"helmCharts,omitempty"`
	Kustomize     KustomizeConfig `json:"kustomize" yaml:"kustomize"`
	Skaffold      *SkaffoldConfig `json:"skaffold,omitempty" yaml:"skaffold,omitempty"`

	// DeploymentStrategy is the collaborator's classification. Empty means
	// the engine derives it from the artifacts present.
	DeploymentStrategy string `json:"deploymentStrategy,omitempty" yaml:"deploymentStrategy,omitempty"`

	ToolAvailability     map[string]ToolStatus `json:"toolAvailability,omitempty" yaml:"toolAvailability,omitempty"`
	DeclaredEnvironments []Environment         `json:"declaredEnvironments,omitempty" yaml:"declaredEnvironments,omitempty"`
	InfraServices        []InfraService        `json:"infraServices,omitempty" yaml:"infraServices,omitempty"`
}

// ManifestFile is one YAML file that contributed K8s resources.
type ManifestFile struct {
	Path      string            `json:"path" yaml:"path"`
	Resources []ManifestSummary `json:"resources,omitempty" yaml:"resources,omitempty"`
}

// ManifestSummary identifies one document inside a ManifestFile.
type ManifestSummary struct {
	Kind       string `json:"kind" yaml:"kind"`
	Name       string `json:"name" yaml:"name"`
	Namespace  string `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	APIVersion string `json:"apiVersion" yaml:"apiVersion"`
}

// HelmChart is the metadata and layout of one chart directory.
type HelmChart struct {
	// Path is the project-relative chart directory.
	Path       string `json:"path" yaml:"path"`
	APIVersion string `json:"apiVersion,omitempty" yaml:"apiVersion,omitempty"`
	Name       string `json:"name" yaml:"name"`
	Version    string `json:"version" yaml:"version"`
	AppVersion string `json:"appVersion,omitempty" yaml:"appVersion,omitempty"`

	// Type is "application", "library" or empty (treated as application).
	Type string `json:"type,omitempty" yaml:"type,omitempty"`

	HasValues     bool `json:"hasValues" yaml:"hasValues"`
	HasTemplates  bool `json:"hasTemplates" yaml:"hasTemplates"`
	HasSubcharts  bool `json:"hasSubcharts" yaml:"hasSubcharts"`
	HasLockfile   bool `json:"hasLockfile" yaml:"hasLockfile"`
	HasHelmignore bool `json:"hasHelmignore" yaml:"hasHelmignore"`
	HasNotes      bool `json:"hasNotes" yaml:"hasNotes"`
	HasHelpers    bool `json:"hasHelpers" yaml:"hasHelpers"`
	HasSchema     bool `json:"hasSchema" yaml:"hasSchema"`

	// FileCount is the number of files in the chart directory.
	FileCount int `json:"fileCount,omitempty" yaml:"fileCount,omitempty"`

	// TemplateFiles are paths relative to the templates/ directory.
	TemplateFiles  []string          `json:"templateFiles,omitempty" yaml:"templateFiles,omitempty"`
	Dependencies   []ChartDependency `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	EnvValuesFiles []string          `json:"envValuesFiles,omitempty" yaml:"envValuesFiles,omitempty"`
}

// ChartDependency is one entry of Chart.yaml dependencies.
type ChartDependency struct {
	Name       string `json:"name" yaml:"name"`
	Version    string `json:"version,omitempty" yaml:"version,omitempty"`
	Repository string `json:"repository,omitempty" yaml:"repository,omitempty"`
}

// KustomizeConfig describes every kustomization found in the project.
type KustomizeConfig struct {
	Exists bool `json:"exists" yaml:"exists"`

	// Path is the directory of the top-level (base) kustomization.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// Overlays lists environment names found as overlays/<env> directories.
	Overlays       []string        `json:"overlays,omitempty" yaml:"overlays,omitempty"`
	Kustomizations []Kustomization `json:"kustomizations,omitempty" yaml:"kustomizations,omitempty"`
}

// Kustomization is one parsed kustomization file.
type Kustomization struct {
	// Path is the project-relative path of the kustomization file itself.
	Path string `json:"path" yaml:"path"`

	Resources        []string          `json:"resources,omitempty" yaml:"resources,omitempty"`
	Bases            []string          `json:"bases,omitempty" yaml:"bases,omitempty"`
	Components       []string          `json:"components,omitempty" yaml:"components,omitempty"`
	Patches          []KustomizePatch  `json:"patches,omitempty" yaml:"patches,omitempty"`
	Namespace        string            `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	CommonLabels     map[string]string `json:"commonLabels,omitempty" yaml:"commonLabels,omitempty"`
	SecretGenerators []SecretGenerator `json:"secretGenerators,omitempty" yaml:"secretGenerators,omitempty"`
	ConfigGenerators []string          `json:"configGenerators,omitempty" yaml:"configGenerators,omitempty"`
}

// KustomizePatch is one patch entry; Target is empty when the patch selects
// its target from the patch body instead.
type KustomizePatch struct {
	Path   string      `json:"path,omitempty" yaml:"path,omitempty"`
	Target PatchTarget `json:"target" yaml:"target"`
}

// PatchTarget selects the resource a patch applies to.
type PatchTarget struct {
	Kind      string `json:"kind,omitempty" yaml:"kind,omitempty"`
	Name      string `json:"name,omitempty" yaml:"name,omitempty"`
	Namespace string `json:"namespace,omitempty" yaml:"namespace,omitempty"`
}

// SecretGenerator is one kustomize secretGenerator entry.
type SecretGenerator struct {
	Name     string   `json:"name" yaml:"name"`
	Literals []string `json:"literals,omitempty" yaml:"literals,omitempty"`
	Files    []string `json:"files,omitempty" yaml:"files,omitempty"`
	EnvFiles []string `json:"envs,omitempty" yaml:"envs,omitempty"`
}

// SkaffoldConfig is the parsed skaffold.yaml.
type SkaffoldConfig struct {
	Path       string             `json:"path" yaml:"path"`
	APIVersion string             `json:"apiVersion" yaml:"apiVersion"`
	Artifacts  []SkaffoldArtifact `json:"artifacts,omitempty" yaml:"artifacts,omitempty"`
	TagPolicy  string             `json:"tagPolicy,omitempty" yaml:"tagPolicy,omitempty"`

	// Deployers lists the deploy section keys present (kubectl, helm, kustomize, ...).
	Deployers []string `json:"deployers,omitempty" yaml:"deployers,omitempty"`

	RawYaml          []string `json:"rawYaml,omitempty" yaml:"rawYaml,omitempty"`
	KustomizePaths   []string `json:"kustomizePaths,omitempty" yaml:"kustomizePaths,omitempty"`
	HasHelmManifests bool     `json:"hasHelmManifests,omitempty" yaml:"hasHelmManifests,omitempty"`
	HasBuild         bool     `json:"hasBuild" yaml:"hasBuild"`
	Profiles         []string `json:"profiles,omitempty" yaml:"profiles,omitempty"`

	// ProfilesOnly is true when build/deploy/manifests only appear inside profiles.
	ProfilesOnly bool `json:"profilesOnly,omitempty" yaml:"profilesOnly,omitempty"`
}

// SkaffoldArtifact is one build artifact.
type SkaffoldArtifact struct {
	Image      string `json:"image" yaml:"image"`
	Context    string `json:"context,omitempty" yaml:"context,omitempty"`
	Dockerfile string `json:"dockerfile,omitempty" yaml:"dockerfile,omitempty"`
}

// ToolStatus reports whether a domain binary is installed.
type ToolStatus struct {
	Available bool   `json:"available" yaml:"available"`
	Version   string `json:"version,omitempty" yaml:"version,omitempty"`
}

// Environment is one declared deployment environment.
type Environment struct {
	Name      string `json:"name" yaml:"name"`
	Source    string `json:"source,omitempty" yaml:"source,omitempty"`
	Namespace string `json:"namespace,omitempty" yaml:"namespace,omitempty"`
}

// InfraService is an in-cluster platform component (ingress controller,
// cert-manager, prometheus, ...) detected by a collaborator.
type InfraService struct {
	Name        string `json:"name" yaml:"name"`
	DetectedVia string `json:"detectedVia,omitempty" yaml:"detectedVia,omitempty"`
}

// ── Docker ───────────────────────────────────────────────────────────────────

// DockerDomain holds Dockerfile and compose state.
type DockerDomain struct {
	Dockerfiles     []Dockerfile     `json:"dockerfiles,omitempty" yaml:"dockerfiles,omitempty"`
	ComposeFile     string           `json:"composeFile,omitempty" yaml:"composeFile,omitempty"`
	ComposeServices []ComposeService `json:"composeServices,omitempty" yaml:"composeServices,omitempty"`

	// ComposeVolumes lists top-level named volumes.
	ComposeVolumes []string `json:"composeVolumes,omitempty" yaml:"composeVolumes,omitempty"`
}

// Dockerfile is one parsed Dockerfile.
type Dockerfile struct {
	Path       string   `json:"path" yaml:"path"`
	BaseImages []string `json:"baseImages,omitempty" yaml:"baseImages,omitempty"`
	Stages     []string `json:"stages,omitempty" yaml:"stages,omitempty"`
	Ports      []int    `json:"ports,omitempty" yaml:"ports,omitempty"`
	Warnings   []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// ComposeService is one compose service definition.
type ComposeService struct {
	Name        string            `json:"name" yaml:"name"`
	Image       string            `json:"image,omitempty" yaml:"image,omitempty"`
	Build       *ComposeBuild     `json:"build,omitempty" yaml:"build,omitempty"`
	Ports       []string          `json:"ports,omitempty" yaml:"ports,omitempty"`
	Environment map[string]string `json:"environment,omitempty" yaml:"environment,omitempty"`
	Volumes     []string          `json:"volumes,omitempty" yaml:"volumes,omitempty"`
	DependsOn   []string          `json:"dependsOn,omitempty" yaml:"dependsOn,omitempty"`
	Healthcheck *Healthcheck      `json:"healthcheck,omitempty" yaml:"healthcheck,omitempty"`
	EnvFile     []string          `json:"envFile,omitempty" yaml:"envFile,omitempty"`
}

// ComposeBuild is the build section of a compose service.
type ComposeBuild struct {
	Context    string `json:"context,omitempty" yaml:"context,omitempty"`
	Dockerfile string `json:"dockerfile,omitempty" yaml:"dockerfile,omitempty"`
	Target     string `json:"target,omitempty" yaml:"target,omitempty"`
}

// Healthcheck is a compose healthcheck.
type Healthcheck struct {
	Test    []string `json:"test,omitempty" yaml:"test,omitempty"`
	Disable bool     `json:"disable,omitempty" yaml:"disable,omitempty"`
}

// ── CI ───────────────────────────────────────────────────────────────────────

// CIDomain holds every CI workflow found in the project.
type CIDomain struct {
	Providers []string   `json:"providers,omitempty" yaml:"providers,omitempty"`
	Workflows []Workflow `json:"workflows,omitempty" yaml:"workflows,omitempty"`
}

// Workflow is one CI pipeline definition file.
type Workflow struct {
	File     string   `json:"file" yaml:"file"`
	Provider string   `json:"provider" yaml:"provider"`
	Name     string   `json:"name,omitempty" yaml:"name,omitempty"`
	Triggers []string `json:"triggers,omitempty" yaml:"triggers,omitempty"`
	Jobs     []Job    `json:"jobs,omitempty" yaml:"jobs,omitempty"`
}

// Job is one CI job.
type Job struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name,omitempty" yaml:"name,omitempty"`
	RunsOn      string   `json:"runsOn,omitempty" yaml:"runsOn,omitempty"`
	Steps       []Step   `json:"steps,omitempty" yaml:"steps,omitempty"`
	Needs       []string `json:"needs,omitempty" yaml:"needs,omitempty"`
	Environment string   `json:"environment,omitempty" yaml:"environment,omitempty"`

	// Env is the job-level environment map.
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
}

// Step is one CI step: either an action reference (Uses) or a script (Run).
type Step struct {
	Name string            `json:"name,omitempty" yaml:"name,omitempty"`
	Uses string            `json:"uses,omitempty" yaml:"uses,omitempty"`
	Run  string            `json:"run,omitempty" yaml:"run,omitempty"`
	With map[string]string `json:"with,omitempty" yaml:"with,omitempty"`
	Env  map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
}

// ── Terraform ────────────────────────────────────────────────────────────────

// TerraformDomain holds the Terraform resource graph of the project.
type TerraformDomain struct {
	// Resources are ResourceRefs with Domain "terraform": Kind is the
	// resource type (aws_ecr_repository), Name is the block label.
	Resources []ResourceRef `json:"resources,omitempty" yaml:"resources,omitempty"`
	Providers []string      `json:"providers,omitempty" yaml:"providers,omitempty"`
	Backend   string        `json:"backend,omitempty" yaml:"backend,omitempty"`
	Root      string        `json:"root,omitempty" yaml:"root,omitempty"`

	// Files lists every .tf and .tfvars file.
	Files []string `json:"files,omitempty" yaml:"files,omitempty"`
}

// HasTerraform reports whether any Terraform configuration was found.
func (t TerraformDomain) HasTerraform() bool {
	return len(t.Files) > 0 || len(t.Resources) > 0
}

// ── Live cluster ─────────────────────────────────────────────────────────────

// ClusterDomain is the live cluster state. Everything except Connected is
// meaningless when Connected is false.
type ClusterDomain struct {
	Connected      bool          `json:"connected" yaml:"connected"`
	Context        string        `json:"context,omitempty" yaml:"context,omitempty"`
	ClusterType    ClusterType   `json:"clusterType" yaml:"clusterType"`
	Namespaces     []string      `json:"namespaces,omitempty" yaml:"namespaces,omitempty"`
	Nodes          []ClusterNode `json:"nodes,omitempty" yaml:"nodes,omitempty"`
	ServerVersion  string        `json:"serverVersion,omitempty" yaml:"serverVersion,omitempty"`
	StorageClasses []string      `json:"storageClasses,omitempty" yaml:"storageClasses,omitempty"`

	// APIResources lists served kinds as "group/version/Kind" (core group
	// as "v1/Kind"); used to recognise installed CRDs.
	APIResources []string `json:"apiResources,omitempty" yaml:"apiResources,omitempty"`
}

// ClusterType classifies the cluster (eks, gke, aks, minikube, kind, ...).
type ClusterType struct {
	Type        string `json:"type" yaml:"type"`
	DetectedVia string `json:"detectedVia,omitempty" yaml:"detectedVia,omitempty"`
}

// ClusterNode is one live node.
type ClusterNode struct {
	Name       string            `json:"name" yaml:"name"`
	ProviderID string            `json:"providerID,omitempty" yaml:"providerID,omitempty"`
	Labels     map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
}

// ── Project ──────────────────────────────────────────────────────────────────

// ProjectDomain is the on-disk layout of the project; rules use it instead of
// touching the filesystem.
type ProjectDomain struct {
	Root string `json:"root,omitempty" yaml:"root,omitempty"`

	// Files and Dirs are slash-separated paths relative to Root.
	Files []string `json:"files,omitempty" yaml:"files,omitempty"`
	Dirs  []string `json:"dirs,omitempty" yaml:"dirs,omitempty"`

	EnvFiles []EnvFile `json:"envFiles,omitempty" yaml:"envFiles,omitempty"`
}

// EnvFile is a dotenv file and its raw content.
type EnvFile struct {
	Path    string `json:"path" yaml:"path"`
	Content string `json:"content" yaml:"content"`
}
